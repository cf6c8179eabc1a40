// Package idstore implements a disk-backed map from sparse 64-bit ids to
// variable-length records.
//
// Record bodies are appended to a data file; only the (id, offset, length)
// index is kept in memory. Ids arriving in ascending order are appended to a
// sorted run and looked up by binary search. Out-of-order and repeated ids go
// to a bounded tail that is merged into the run, last write wins.
package idstore

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	mmap "github.com/edsrzf/mmap-go"
)

const (
	DataFileName  = "data.bin"
	IndexFileName = "index.zst"

	// mergeThreshold bounds the out-of-order tail.
	mergeThreshold = 1 << 16

	writeBufferSize = 4 << 20
)

// maxRecordSize is the longest record the index length field can hold.
var maxRecordSize uint64 = math.MaxUint32

// Store is one id-indexed record store. A Store created with Create accepts
// writes; a Store opened with Open is read-only and serves reads from a
// memory mapping of the data file. Writes are serialized; reads may run
// concurrently with each other and with writes.
type Store struct {
	dir      string
	dataPath string

	mu       sync.RWMutex
	file     *os.File
	rf       retryFile
	w        *bufio.Writer
	size     int64 // bytes appended, including buffered ones
	flushed  int64 // bytes handed to the file
	run      []entry
	tail     map[uint64]entry
	maxID    uint64
	hasMax   bool
	mapped   mmap.MMap
	readOnly bool
	final    bool
	closed   bool
}

// Create makes dir if needed and starts an empty store in it, discarding any
// previous contents.
func Create(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, ioErr("create dir", dir, err)
	}
	dataPath := filepath.Join(dir, DataFileName)
	if err := os.Remove(filepath.Join(dir, IndexFileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, ioErr("remove index", dir, err)
	}

	f, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, ioErr("create data", dataPath, err)
	}

	s := &Store{
		dir:      dir,
		dataPath: dataPath,
		file:     f,
		rf:       retryFile{f: f},
		tail:     make(map[uint64]entry),
	}
	s.w = bufio.NewWriterSize(s.rf, writeBufferSize)
	return s, nil
}

// Open loads a finalized store read-only. The index is validated against the
// data file; any inconsistency is reported as an IOError.
func Open(dir string) (*Store, error) {
	dataPath := filepath.Join(dir, DataFileName)
	f, err := os.Open(dataPath)
	if err != nil {
		return nil, ioErr("open data", dataPath, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ioErr("stat data", dataPath, err)
	}

	run, err := readIndex(filepath.Join(dir, IndexFileName), info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}

	s := &Store{
		dir:      dir,
		dataPath: dataPath,
		file:     f,
		rf:       retryFile{f: f},
		size:     info.Size(),
		flushed:  info.Size(),
		run:      run,
		tail:     make(map[uint64]entry),
		readOnly: true,
		final:    true,
	}
	if n := len(run); n > 0 {
		s.maxID, s.hasMax = run[n-1].id, true
	}

	// An empty file cannot be mapped; reads then fall back to ReadAt.
	if info.Size() > 0 {
		m, err := mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			f.Close()
			return nil, ioErr("map data", dataPath, err)
		}
		s.mapped = m
	}
	return s, nil
}

// Dir returns the directory holding the store files.
func (s *Store) Dir() string { return s.dir }

// Put appends rec under id. A later Put with the same id replaces it.
func (s *Store) Put(id uint64, rec []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(); err != nil {
		return err
	}
	if uint64(len(rec)) > maxRecordSize {
		return ioErr("put", s.dataPath, fmt.Errorf("%w: record %d is %d bytes", ErrRecordTooLarge, id, len(rec)))
	}

	offset := s.size
	if _, err := s.w.Write(rec); err != nil {
		return ioErr("write", s.dataPath, err)
	}
	s.size += int64(len(rec))
	s.flushed = s.size - int64(s.w.Buffered())
	s.final = false

	e := entry{id: id, offset: offset, length: uint32(len(rec))}
	if !s.hasMax || id > s.maxID {
		s.run = append(s.run, e)
		s.maxID, s.hasMax = id, true
		return nil
	}

	s.tail[id] = e
	if len(s.tail) >= mergeThreshold {
		s.mergeLocked()
	}
	return nil
}

// Get returns a copy of the most recent record stored under id.
func (s *Store) Get(id uint64) ([]byte, bool, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, false, ErrClosed
	}
	e, ok := s.lookupLocked(id)
	if !ok {
		s.mu.RUnlock()
		return nil, false, nil
	}
	if e.end() > s.flushed {
		// The record is still in the write buffer.
		s.mu.RUnlock()
		if err := s.Flush(); err != nil {
			return nil, false, err
		}
		s.mu.RLock()
		if e, ok = s.lookupLocked(id); !ok {
			s.mu.RUnlock()
			return nil, false, nil
		}
	}
	defer s.mu.RUnlock()

	buf, err := s.readLocked(e, nil)
	if err != nil {
		return nil, false, err
	}
	return buf, true, nil
}

// Len returns the number of distinct ids in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeLocked()
	return len(s.run)
}

// Size returns the number of data bytes written, including superseded
// records.
func (s *Store) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Flush hands buffered record bytes to the operating system.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.flushLocked()
}

// Finalize flushes and syncs the data file and persists the index. After
// Finalize returns, Open on the same directory sees every record put so far.
func (s *Store) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.readOnly || s.final {
		return nil
	}
	if err := s.flushLocked(); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return ioErr("sync", s.dataPath, err)
	}
	s.mergeLocked()
	if err := writeIndex(filepath.Join(s.dir, IndexFileName), s.run, s.size); err != nil {
		return err
	}
	s.final = true
	return nil
}

// Close releases the store files. It does not finalize.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if !s.readOnly {
		err = s.flushLocked()
	}
	if s.mapped != nil {
		if uerr := s.mapped.Unmap(); uerr != nil && err == nil {
			err = ioErr("unmap", s.dataPath, uerr)
		}
		s.mapped = nil
	}
	if cerr := s.file.Close(); cerr != nil && err == nil {
		err = ioErr("close", s.dataPath, cerr)
	}
	return err
}

func (s *Store) writable() error {
	if s.closed {
		return ErrClosed
	}
	if s.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (s *Store) lookupLocked(id uint64) (entry, bool) {
	if e, ok := s.tail[id]; ok {
		return e, true
	}
	if i, ok := search(s.run, id); ok {
		return s.run[i], true
	}
	return entry{}, false
}

func (s *Store) flushLocked() error {
	if s.w == nil || s.w.Buffered() == 0 {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		return ioErr("flush", s.dataPath, err)
	}
	s.flushed = s.size
	return nil
}

func (s *Store) mergeLocked() {
	if len(s.tail) == 0 {
		return
	}
	s.run = mergeRuns(s.run, s.tail)
	clear(s.tail)
}

// readLocked reads the body of e into buf, growing it as needed.
func (s *Store) readLocked(e entry, buf []byte) ([]byte, error) {
	n := int(e.length)
	if cap(buf) < n {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	if n == 0 {
		return buf, nil
	}

	if s.mapped != nil {
		copy(buf, s.mapped[e.offset:e.end()])
		return buf, nil
	}
	if _, err := s.rf.ReadAt(buf, e.offset); err != nil {
		return nil, ioErr("read", s.dataPath, err)
	}
	return buf, nil
}
