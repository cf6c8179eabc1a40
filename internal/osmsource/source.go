// Package osmsource opens OSM primitive streams for the denormalizer.
package osmsource

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"
	"go.uber.org/multierr"
)

// Stdin is the input name that reads PBF data from standard input.
const Stdin = "-"

// Source is an osm.Scanner plus the byte counters used for progress.
type Source struct {
	osm.Scanner

	name    string
	closer  io.Closer
	size    int64
	scanned func() int64
}

// Open starts scanning path. Files ending in .osm or .xml are read as OSM
// XML; everything else, including Stdin, as PBF decoded by procs goroutines.
func Open(ctx context.Context, path string, procs int) (*Source, error) {
	var (
		r      io.Reader
		closer io.Closer
		size   int64
	)

	if path == Stdin {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open input file: %w", err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to stat input file: %w", err)
		}
		r, closer, size = f, f, info.Size()
	}

	src := &Source{name: path, closer: closer, size: size}
	if isXML(path) {
		src.Scanner = osmxml.New(ctx, r)
	} else {
		if procs < 1 {
			procs = 1
		}
		pbf := osmpbf.New(ctx, r, procs)
		src.Scanner = pbf
		src.scanned = pbf.FullyScannedBytes
	}
	return src, nil
}

// FromScanner wraps an existing scanner, e.g. one built from memory.
func FromScanner(name string, s osm.Scanner) *Source {
	return &Source{Scanner: s, name: name}
}

func isXML(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".osm") || strings.HasSuffix(lower, ".xml")
}

// Name returns the path the source was opened from.
func (s *Source) Name() string { return s.name }

// Size returns the input size in bytes, or 0 when unknown.
func (s *Source) Size() int64 { return s.size }

// BytesScanned returns how much of the input has been decoded, or 0 when the
// decoder does not report it.
func (s *Source) BytesScanned() int64 {
	if s.scanned == nil {
		return 0
	}
	return s.scanned()
}

// Close stops the scanner and closes the underlying file.
func (s *Source) Close() error {
	err := s.Scanner.Close()
	if s.closer != nil {
		err = multierr.Append(err, s.closer.Close())
	}
	return err
}
