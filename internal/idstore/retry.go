package idstore

import (
	"errors"
	"io"
	"os"
	"syscall"
	"time"
)

const (
	maxAttempts  = 3
	retryBackoff = 5 * time.Millisecond
)

// transient reports whether err is worth another attempt.
func transient(err error) bool {
	return errors.Is(err, syscall.EINTR) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EBUSY)
}

// retryFile retries short or interrupted writes and reads on the data file.
type retryFile struct {
	f *os.File
}

func (r retryFile) Write(p []byte) (int, error) {
	written := 0
	attempt := 0
	for written < len(p) {
		n, err := r.f.Write(p[written:])
		written += n
		if err == nil {
			continue
		}
		attempt++
		if !transient(err) || attempt >= maxAttempts {
			return written, err
		}
		time.Sleep(time.Duration(attempt) * retryBackoff)
	}
	return written, nil
}

func (r retryFile) ReadAt(p []byte, off int64) (int, error) {
	read := 0
	attempt := 0
	for read < len(p) {
		n, err := r.f.ReadAt(p[read:], off+int64(read))
		read += n
		if err == nil {
			continue
		}
		if err == io.EOF && read == len(p) {
			return read, nil
		}
		attempt++
		if !transient(err) || attempt >= maxAttempts {
			return read, err
		}
		time.Sleep(time.Duration(attempt) * retryBackoff)
	}
	return read, nil
}
