package idstore

// Iterator walks a snapshot of the store in ascending id order.
//
//	it := store.Scan()
//	for it.Next() {
//		use(it.ID(), it.Bytes())
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	s       *Store
	entries []entry
	pos     int
	cur     entry
	buf     []byte
	err     error
}

// Scan returns an iterator over every record stored so far. Records put
// after Scan returns are not visited. Scan may be called any number of
// times; each iterator starts from the lowest id.
func (s *Store) Scan() *Iterator {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &Iterator{err: ErrClosed}
	}
	if err := s.flushLocked(); err != nil {
		return &Iterator{err: err}
	}
	s.mergeLocked()

	// Entries in the run are never modified in place, so the slice header
	// is a stable snapshot even if writes continue.
	return &Iterator{s: s, entries: s.run[:len(s.run):len(s.run)]}
}

// Next advances to the next record. It returns false at the end of the
// snapshot or on error.
func (it *Iterator) Next() bool {
	if it.err != nil || it.pos >= len(it.entries) {
		return false
	}
	it.cur = it.entries[it.pos]
	it.pos++

	it.s.mu.RLock()
	if it.s.closed {
		it.s.mu.RUnlock()
		it.err = ErrClosed
		return false
	}
	buf, err := it.s.readLocked(it.cur, it.buf)
	it.s.mu.RUnlock()
	if err != nil {
		it.err = err
		return false
	}
	it.buf = buf
	return true
}

// ID returns the id of the current record.
func (it *Iterator) ID() uint64 { return it.cur.id }

// Bytes returns the current record. The slice is reused by the next call to
// Next; copy it to keep it.
func (it *Iterator) Bytes() []byte { return it.buf }

// Len returns the number of records in the snapshot.
func (it *Iterator) Len() int { return len(it.entries) }

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error { return it.err }
