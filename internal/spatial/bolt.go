package spatial

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/wegman-software/osmingest-go/internal/middle"
)

var (
	entriesBucket = []byte("entries")
	cellsBucket   = []byte("cells")
)

const (
	entryKeyLen = 1 + 8
	// zoom | x | y | kind | id
	cellKeyLen = 1 + 4 + 4 + entryKeyLen
)

// BoltIndex is a file-backed spatial index. Each entry is filed under the
// tiles of the deepest zoom at which its bound spans a handful of tiles;
// a search walks every zoom and filters candidates by exact intersection.
type BoltIndex struct {
	db      *bolt.DB
	maxZoom int
}

var (
	_ Sink     = (*BoltIndex)(nil)
	_ Searcher = (*BoltIndex)(nil)
)

// boltRecord is the stored value of an entry.
type boltRecord struct {
	Bound   [4]float64 `msgpack:"b"`
	Zoom    uint8      `msgpack:"z"`
	Payload []byte     `msgpack:"p,omitempty"`
}

func (r *boltRecord) bound() orb.Bound {
	return orb.Bound{Min: orb.Point{r.Bound[0], r.Bound[1]}, Max: orb.Point{r.Bound[2], r.Bound[3]}}
}

// OpenBolt opens or creates the index file at path.
func OpenBolt(path string, maxZoom int) (*BoltIndex, error) {
	if maxZoom <= 0 || maxZoom > 30 {
		maxZoom = DefaultMaxZoom
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open spatial index %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{entriesBucket, cellsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create spatial index buckets: %w", err)
	}
	return &BoltIndex{db: db, maxZoom: maxZoom}, nil
}

func entryKey(kind middle.Kind, id int64) []byte {
	k := make([]byte, entryKeyLen)
	k[0] = byte(kind)
	binary.BigEndian.PutUint64(k[1:], uint64(id))
	return k
}

func cellKey(z, x, y int, ek []byte) []byte {
	k := make([]byte, 0, cellKeyLen)
	k = append(k, byte(z))
	k = binary.BigEndian.AppendUint32(k, uint32(x))
	k = binary.BigEndian.AppendUint32(k, uint32(y))
	return append(k, ek...)
}

// Insert upserts entries in one transaction.
func (b *BoltIndex) Insert(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Kind.Valid() {
			return fmt.Errorf("invalid entity kind %q", byte(e.Kind))
		}
		if !middle.ValidBound(e.Bound) {
			return fmt.Errorf("%s %d: invalid bound %v", e.Kind, e.ID, e.Bound)
		}
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		eb := tx.Bucket(entriesBucket)
		cb := tx.Bucket(cellsBucket)
		for _, e := range entries {
			ek := entryKey(e.Kind, e.ID)

			if old := eb.Get(ek); old != nil {
				var prev boltRecord
				if err := msgpack.Unmarshal(old, &prev); err != nil {
					return fmt.Errorf("corrupt spatial entry %s %d: %w", e.Kind, e.ID, err)
				}
				for _, t := range BoundToTileRange(prev.bound(), int(prev.Zoom)).Tiles() {
					if err := cb.Delete(cellKey(t.Z, t.X, t.Y, ek)); err != nil {
						return err
					}
				}
			}

			r := cellRange(e.Bound, b.maxZoom)
			rec := boltRecord{
				Bound:   [4]float64{e.Bound.Min[0], e.Bound.Min[1], e.Bound.Max[0], e.Bound.Max[1]},
				Zoom:    uint8(r.Z),
				Payload: e.Payload,
			}
			val, err := msgpack.Marshal(&rec)
			if err != nil {
				return err
			}
			if err := eb.Put(ek, val); err != nil {
				return err
			}
			for _, t := range r.Tiles() {
				if err := cb.Put(cellKey(t.Z, t.X, t.Y, ek), nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Get returns the entry stored for kind and id.
func (b *BoltIndex) Get(kind middle.Kind, id int64) (Entry, bool, error) {
	var (
		e     Entry
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(entriesBucket).Get(entryKey(kind, id))
		if v == nil {
			return nil
		}
		var rec boltRecord
		if err := msgpack.Unmarshal(v, &rec); err != nil {
			return err
		}
		e = Entry{Kind: kind, ID: id, Bound: rec.bound(), Payload: rec.Payload}
		found = true
		return nil
	})
	return e, found, err
}

// Search calls fn for each entry intersecting q. Entries are visited once
// each, in no particular order.
func (b *BoltIndex) Search(ctx context.Context, q orb.Bound, fn func(Entry) error) error {
	err := b.db.View(func(tx *bolt.Tx) error {
		eb := tx.Bucket(entriesBucket)
		c := tx.Bucket(cellsBucket).Cursor()
		seen := make(map[string]struct{})

		for z := 0; z <= b.maxZoom; z++ {
			r := BoundToTileRange(q, z)
			for x := r.MinX; x <= r.MaxX; x++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				prefix := cellKey(z, x, r.MinY, nil)
				for k, _ := c.Seek(prefix); k != nil && bytes.Equal(k[:5], prefix[:5]); k, _ = c.Next() {
					if int(binary.BigEndian.Uint32(k[5:9])) > r.MaxY {
						break
					}
					ek := k[9:]
					if _, dup := seen[string(ek)]; dup {
						continue
					}
					seen[string(ek)] = struct{}{}

					e, ok, err := decodeBoltEntry(ek, eb.Get(ek))
					if err != nil {
						return err
					}
					if !ok || !e.Bound.Intersects(q) {
						continue
					}
					if err := fn(e); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}

// decodeBoltEntry copies the stored value; bolt memory is only valid inside
// the transaction.
func decodeBoltEntry(ek, val []byte) (Entry, bool, error) {
	if val == nil {
		return Entry{}, false, nil
	}
	var rec boltRecord
	if err := msgpack.Unmarshal(val, &rec); err != nil {
		return Entry{}, false, fmt.Errorf("corrupt spatial entry: %w", err)
	}
	e := Entry{
		Kind:  middle.Kind(ek[0]),
		ID:    int64(binary.BigEndian.Uint64(ek[1:])),
		Bound: rec.bound(),
	}
	if rec.Payload != nil {
		e.Payload = append([]byte(nil), rec.Payload...)
	}
	return e, true, nil
}

// Count returns the number of entries in the index.
func (b *BoltIndex) Count() (int, error) {
	var n int
	err := b.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(entriesBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the index file.
func (b *BoltIndex) Close() error {
	return b.db.Close()
}
