package middle

import (
	"fmt"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/wegman-software/osmingest-go/internal/idstore"
)

// Stores groups the three per-kind stores kept under one directory:
// <dir>/nodes, <dir>/ways and <dir>/relations.
type Stores struct {
	Dir       string
	Nodes     *idstore.Store
	Ways      *idstore.Store
	Relations *idstore.Store
}

// KindDir returns the directory of the store for kind under dir.
func KindDir(dir string, kind Kind) string {
	return filepath.Join(dir, kind.Plural())
}

// CreateStores starts three empty stores under dir.
func CreateStores(dir string) (*Stores, error) {
	return openAll(dir, idstore.Create)
}

// OpenStores opens three finalized stores under dir read-only.
func OpenStores(dir string) (*Stores, error) {
	return openAll(dir, idstore.Open)
}

func openAll(dir string, open func(string) (*idstore.Store, error)) (*Stores, error) {
	s := &Stores{Dir: dir}
	for _, kind := range Kinds {
		st, err := open(KindDir(dir, kind))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%s store: %w", kind, err)
		}
		s.set(kind, st)
	}
	return s, nil
}

func (s *Stores) set(kind Kind, st *idstore.Store) {
	switch kind {
	case KindNode:
		s.Nodes = st
	case KindWay:
		s.Ways = st
	case KindRelation:
		s.Relations = st
	}
}

// For returns the store holding entities of kind.
func (s *Stores) For(kind Kind) *idstore.Store {
	switch kind {
	case KindNode:
		return s.Nodes
	case KindWay:
		return s.Ways
	case KindRelation:
		return s.Relations
	}
	return nil
}

// Get loads and decodes one stored entity.
func (s *Stores) Get(kind Kind, id int64) (Record, bool, error) {
	st := s.For(kind)
	if st == nil || id <= 0 {
		return nil, false, nil
	}
	b, ok, err := st.Get(uint64(id))
	if err != nil || !ok {
		return nil, false, err
	}
	rec, err := Decode(kind, b)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Size returns the data bytes written across all stores.
func (s *Stores) Size() int64 {
	var n int64
	for _, kind := range Kinds {
		if st := s.For(kind); st != nil {
			n += st.Size()
		}
	}
	return n
}

// Finalize finalizes every store. All stores are attempted even if one
// fails.
func (s *Stores) Finalize() error {
	var err error
	for _, kind := range Kinds {
		if st := s.For(kind); st != nil {
			if ferr := st.Finalize(); ferr != nil {
				err = multierr.Append(err, fmt.Errorf("finalize %s store: %w", kind, ferr))
			}
		}
	}
	return err
}

// Close closes every open store.
func (s *Stores) Close() error {
	var err error
	for _, kind := range Kinds {
		if st := s.For(kind); st != nil {
			err = multierr.Append(err, st.Close())
		}
	}
	return err
}
