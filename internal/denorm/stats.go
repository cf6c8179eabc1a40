package denorm

import (
	"sync/atomic"

	"github.com/wegman-software/osmingest-go/internal/middle"
)

// KindCounters are the live counters for one entity kind.
type KindCounters struct {
	Read        atomic.Int64
	Written     atomic.Int64
	Unresolved  atomic.Int64
	Malformed   atomic.Int64
	SkippedRefs atomic.Int64
	Deferred    atomic.Int64
}

// Stats holds the live counters of a denormalization run.
type Stats struct {
	nodes, ways, relations KindCounters
}

// For returns the counters of kind.
func (s *Stats) For(kind middle.Kind) *KindCounters {
	switch kind {
	case middle.KindWay:
		return &s.ways
	case middle.KindRelation:
		return &s.relations
	default:
		return &s.nodes
	}
}

// KindSummary is a point-in-time copy of KindCounters.
type KindSummary struct {
	Read        int64
	Written     int64
	Unresolved  int64
	Malformed   int64
	SkippedRefs int64
	Deferred    int64
}

// Faults returns the number of dropped entities.
func (k KindSummary) Faults() int64 {
	return k.Unresolved + k.Malformed
}

// Summary is a point-in-time copy of Stats.
type Summary struct {
	Nodes     KindSummary
	Ways      KindSummary
	Relations KindSummary
}

// For returns the summary of kind.
func (s Summary) For(kind middle.Kind) KindSummary {
	switch kind {
	case middle.KindWay:
		return s.Ways
	case middle.KindRelation:
		return s.Relations
	default:
		return s.Nodes
	}
}

// Written returns the number of entities stored across kinds.
func (s Summary) Written() int64 {
	return s.Nodes.Written + s.Ways.Written + s.Relations.Written
}

// Faults returns the number of dropped entities across kinds.
func (s Summary) Faults() int64 {
	return s.Nodes.Faults() + s.Ways.Faults() + s.Relations.Faults()
}

// Summary snapshots the counters.
func (s *Stats) Summary() Summary {
	return Summary{
		Nodes:     s.nodes.snapshot(),
		Ways:      s.ways.snapshot(),
		Relations: s.relations.snapshot(),
	}
}

func (c *KindCounters) snapshot() KindSummary {
	return KindSummary{
		Read:        c.Read.Load(),
		Written:     c.Written.Load(),
		Unresolved:  c.Unresolved.Load(),
		Malformed:   c.Malformed.Load(),
		SkippedRefs: c.SkippedRefs.Load(),
		Deferred:    c.Deferred.Load(),
	}
}
