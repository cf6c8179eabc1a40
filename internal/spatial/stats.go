package spatial

import (
	"sync/atomic"

	"github.com/wegman-software/osmingest-go/internal/middle"
)

// KindCounters are the live pass 2 counters for one entity kind.
type KindCounters struct {
	Scanned   atomic.Int64
	Inserted  atomic.Int64
	NoBBox    atomic.Int64
	Filtered  atomic.Int64
	Malformed atomic.Int64
	Rejected  atomic.Int64
}

// Stats holds the live counters of a pass 2 run.
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

// Scanned returns the records read across kinds.
func (s *Stats) Scanned() int64 {
	return s.nodes.Scanned.Load() + s.ways.Scanned.Load() + s.relations.Scanned.Load()
}

// KindSummary is a point-in-time copy of KindCounters.
type KindSummary struct {
	Scanned   int64
	Inserted  int64
	NoBBox    int64
	Filtered  int64
	Malformed int64
	Rejected  int64
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

// Inserted returns the entries written across kinds.
func (s Summary) Inserted() int64 {
	return s.Nodes.Inserted + s.Ways.Inserted + s.Relations.Inserted
}

// Rejected returns the entries the sink refused across kinds.
func (s Summary) Rejected() int64 {
	return s.Nodes.Rejected + s.Ways.Rejected + s.Relations.Rejected
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
		Scanned:   c.Scanned.Load(),
		Inserted:  c.Inserted.Load(),
		NoBBox:    c.NoBBox.Load(),
		Filtered:  c.Filtered.Load(),
		Malformed: c.Malformed.Load(),
		Rejected:  c.Rejected.Load(),
	}
}
