package idstore

import (
	"errors"
	"fmt"
)

var (
	// ErrIO is matched by every storage failure reported by a Store.
	ErrIO = errors.New("store i/o fault")

	// ErrCorruptIndex marks an index file that cannot describe the data file.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrNotFinalized is returned by Open when the directory has no index file.
	ErrNotFinalized = errors.New("store was not finalized")

	// ErrRecordTooLarge is returned by Put for records longer than the index
	// can address.
	ErrRecordTooLarge = errors.New("record exceeds the size limit")

	ErrReadOnly = errors.New("store is read-only")
	ErrClosed   = errors.New("store is closed")
)

// IOError describes a failed operation on one of the store files.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Is reports ErrIO for every IOError so callers can test the class of failure
// without knowing the underlying cause.
func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

func ioErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

func corrupt(path, format string, args ...any) error {
	return &IOError{
		Op:   "load index",
		Path: path,
		Err:  fmt.Errorf("%w: %s", ErrCorruptIndex, fmt.Sprintf(format, args...)),
	}
}
