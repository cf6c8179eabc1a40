package osmsource

import (
	"context"

	"github.com/paulmach/osm"
)

// SliceScanner replays a fixed list of objects. It is used to feed the
// pipeline from memory, mostly in tests and tools.
type SliceScanner struct {
	ctx     context.Context
	objects []osm.Object
	pos     int
	err     error
}

var _ osm.Scanner = (*SliceScanner)(nil)

// NewSliceScanner returns a scanner over objects in the given order.
func NewSliceScanner(ctx context.Context, objects ...osm.Object) *SliceScanner {
	return &SliceScanner{ctx: ctx, objects: objects, pos: -1}
}

func (s *SliceScanner) Scan() bool {
	if s.err != nil {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	s.pos++
	return s.pos < len(s.objects)
}

func (s *SliceScanner) Object() osm.Object {
	if s.pos < 0 || s.pos >= len(s.objects) {
		return nil
	}
	return s.objects[s.pos]
}

func (s *SliceScanner) Err() error { return s.err }

func (s *SliceScanner) Close() error { return nil }
