package idstore

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"
)

// indexMagic opens every index file; the last byte is the format version.
var indexMagic = [8]byte{'O', 'S', 'M', 'I', 'D', 'X', 0, 1}

// entry locates one record in the data file.
type entry struct {
	id     uint64
	offset int64
	length uint32
}

func (e entry) end() int64 { return e.offset + int64(e.length) }

// search returns the position of id in a run sorted by id.
func search(run []entry, id uint64) (int, bool) {
	i := sort.Search(len(run), func(i int) bool { return run[i].id >= id })
	return i, i < len(run) && run[i].id == id
}

// mergeRuns merges the out-of-order tail into the sorted run. Tail entries
// are always newer than run entries with the same id, so they replace them.
func mergeRuns(run []entry, tail map[uint64]entry) []entry {
	if len(tail) == 0 {
		return run
	}
	pending := make([]entry, 0, len(tail))
	for _, e := range tail {
		pending = append(pending, e)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].id < pending[j].id })

	out := make([]entry, 0, len(run)+len(pending))
	i, j := 0, 0
	for i < len(run) && j < len(pending) {
		switch {
		case run[i].id < pending[j].id:
			out = append(out, run[i])
			i++
		case run[i].id > pending[j].id:
			out = append(out, pending[j])
			j++
		default:
			out = append(out, pending[j])
			i++
			j++
		}
	}
	out = append(out, run[i:]...)
	out = append(out, pending[j:]...)
	return out
}

// writeIndex persists run to path atomically. Layout inside the zstd frame:
// magic, uvarint count, then per entry uvarint id delta, varint offset delta
// and uvarint length, followed by a fixed trailer of count and data size.
func writeIndex(path string, run []entry, dataSize int64) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return ioErr("create index", tmp, err)
	}

	if err := encodeIndex(f, run, dataSize); err != nil {
		f.Close()
		os.Remove(tmp)
		return ioErr("write index", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return ioErr("sync index", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return ioErr("close index", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return ioErr("rename index", path, err)
	}
	return nil
}

func encodeIndex(w io.Writer, run []entry, dataSize int64) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(zw, 1<<16)

	var scratch [binary.MaxVarintLen64]byte
	put := func(n int) error {
		_, err := bw.Write(scratch[:n])
		return err
	}

	if _, err := bw.Write(indexMagic[:]); err != nil {
		zw.Close()
		return err
	}
	if err := put(binary.PutUvarint(scratch[:], uint64(len(run)))); err != nil {
		zw.Close()
		return err
	}

	var prevID uint64
	var prevOffset int64
	for _, e := range run {
		if err := put(binary.PutUvarint(scratch[:], e.id-prevID)); err != nil {
			zw.Close()
			return err
		}
		if err := put(binary.PutVarint(scratch[:], e.offset-prevOffset)); err != nil {
			zw.Close()
			return err
		}
		if err := put(binary.PutUvarint(scratch[:], uint64(e.length))); err != nil {
			zw.Close()
			return err
		}
		prevID, prevOffset = e.id, e.offset
	}

	var trailer [16]byte
	binary.LittleEndian.PutUint64(trailer[0:], uint64(len(run)))
	binary.LittleEndian.PutUint64(trailer[8:], uint64(dataSize))
	if _, err := bw.Write(trailer[:]); err != nil {
		zw.Close()
		return err
	}

	if err := bw.Flush(); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// readIndex loads and validates the index at path against a data file of
// dataSize bytes.
func readIndex(path string, dataSize int64) ([]entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFinalized, path)
		}
		return nil, ioErr("open index", path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, ioErr("open index", path, err)
	}
	defer zr.Close()
	br := bufio.NewReaderSize(zr, 1<<16)

	var magic [8]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, corrupt(path, "short header: %v", err)
	}
	if magic != indexMagic {
		return nil, corrupt(path, "bad magic %x", magic)
	}

	count, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, corrupt(path, "entry count: %v", err)
	}
	// The count is not trusted for allocation until the entries are read.
	run := make([]entry, 0, min(count, 1<<20))
	var prevID uint64
	var prevOffset int64
	for i := uint64(0); i < count; i++ {
		dID, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, corrupt(path, "entry %d: %v", i, err)
		}
		dOff, err := binary.ReadVarint(br)
		if err != nil {
			return nil, corrupt(path, "entry %d: %v", i, err)
		}
		length, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, corrupt(path, "entry %d: %v", i, err)
		}

		e := entry{id: prevID + dID, offset: prevOffset + dOff, length: uint32(length)}
		if i > 0 && dID == 0 {
			return nil, corrupt(path, "entry %d: id %d not ascending", i, e.id)
		}
		if length > 1<<32-1 || e.offset < 0 || e.end() > dataSize {
			return nil, corrupt(path, "entry %d: id %d spans [%d,%d) past data size %d",
				i, e.id, e.offset, e.offset+int64(length), dataSize)
		}
		run = append(run, e)
		prevID, prevOffset = e.id, e.offset
	}

	var trailer [16]byte
	if _, err := io.ReadFull(br, trailer[:]); err != nil {
		return nil, corrupt(path, "short trailer: %v", err)
	}
	if n := binary.LittleEndian.Uint64(trailer[0:]); n != count {
		return nil, corrupt(path, "trailer count %d, header count %d", n, count)
	}
	if size := int64(binary.LittleEndian.Uint64(trailer[8:])); size > dataSize {
		return nil, corrupt(path, "index expects %d data bytes, file has %d", size, dataSize)
	}

	return run, nil
}
