// Package spatial holds pass 2: it reads finalized stores and writes one
// bounding-box entry per entity into a spatial sink.
package spatial

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"github.com/wegman-software/osmingest-go/internal/middle"
)

// Entry is one row of the spatial index.
type Entry struct {
	Kind    middle.Kind
	ID      int64
	Bound   orb.Bound
	Payload []byte
}

// Key identifies an entry; inserting an entry with an existing key replaces
// the previous one.
type Key struct {
	Kind middle.Kind
	ID   int64
}

// Key returns the entry's identity.
func (e Entry) Key() Key { return Key{Kind: e.Kind, ID: e.ID} }

// Sink receives spatial entries. Insert must be an upsert keyed by
// (Kind, ID) so that repeating pass 2 does not duplicate entries. An error
// from Insert rejects the whole batch.
type Sink interface {
	Insert(ctx context.Context, entries []Entry) error
	Close() error
}

// Searcher is a sink that can be queried by bounding box.
type Searcher interface {
	// Search calls fn for every entry whose bound intersects q. Returning
	// an error from fn stops the search and is returned.
	Search(ctx context.Context, q orb.Bound, fn func(Entry) error) error
}

// ErrStop may be returned from a Search callback to end the search early
// without an error.
var ErrStop = errors.New("stop search")

// Backend names accepted by Open.
const (
	BackendBolt    = "bolt"
	BackendPostGIS = "postgis"
	BackendParquet = "parquet"
)

// Options configure the sink returned by Open.
type Options struct {
	Backend string
	// Path of the bolt or parquet file.
	Path string
	// MaxZoom is the deepest tile zoom of the bolt index.
	MaxZoom int

	// ConnString, Schema and Table address the PostGIS table.
	ConnString string
	Schema     string
	Table      string
	MaxConns   int
}

// Open creates the sink named by opts.Backend.
func Open(ctx context.Context, opts Options) (Sink, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendBolt:
		return OpenBolt(opts.Path, opts.MaxZoom)
	case BackendPostGIS:
		return OpenPostGIS(ctx, opts.ConnString, opts.Schema, opts.Table, opts.MaxConns)
	case BackendParquet:
		return CreateParquet(opts.Path)
	}
	return nil, fmt.Errorf("unknown spatial backend %q (expected bolt, postgis or parquet)", opts.Backend)
}
