// Package denorm implements the first pass: it resolves way and relation
// references into geometry and writes every entity to its id-indexed store.
//
// The source must deliver nodes, then ways, then relations. Each change of
// kind is a barrier: every entity of the previous kind is stored before the
// first entity of the next kind is resolved. Within a kind, entities are
// resolved by a bounded worker pool and written back in source order by a
// single writer.
package denorm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/destel/rill"
	"github.com/paulmach/osm"
	"go.uber.org/zap"

	"github.com/wegman-software/osmingest-go/internal/logger"
	"github.com/wegman-software/osmingest-go/internal/middle"
	"github.com/wegman-software/osmingest-go/internal/nodeindex"
)

const (
	defaultBuffer      = 4096
	defaultMaxDeferred = 100_000

	// faultLogLimit is the number of faults per kind logged at warn level.
	faultLogLimit = 20
)

// Options configure a Denormalizer.
type Options struct {
	// Workers resolving entities concurrently; defaults to NumCPU.
	Workers int
	// Buffer is the number of source objects queued ahead of the workers.
	Buffer int

	// SkipMissing leaves unresolved references out of the geometry
	// instead of dropping the entity.
	SkipMissing bool
	// HaltOnError stops the run at the first per-entity fault.
	HaltOnError bool

	// RelationSweep holds relations whose relation members are not yet
	// stored and retries them after the last relation.
	RelationSweep bool
	// MaxDeferred bounds the relations held for the sweep.
	MaxDeferred int

	// DropMetadata omits version, changeset, timestamp and user.
	DropMetadata bool

	// NodeCache, if set, is filled with node coordinates and consulted
	// before the node store during resolution.
	NodeCache *nodeindex.FlatNodes

	// OnFault is called from the writer goroutine for every fault.
	OnFault func(*middle.Fault)
}

// Denormalizer runs pass 1 into a set of stores.
type Denormalizer struct {
	stores *middle.Stores
	opts   Options
	stats  *Stats
	log    *zap.Logger

	deferred []*item
}

// New creates a Denormalizer writing to stores.
func New(stores *middle.Stores, opts Options) *Denormalizer {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.MaxDeferred <= 0 {
		opts.MaxDeferred = defaultMaxDeferred
	}
	return &Denormalizer{
		stores: stores,
		opts:   opts,
		stats:  &Stats{},
		log:    logger.Get(),
	}
}

// Stats returns the live counters of the run.
func (d *Denormalizer) Stats() *Stats { return d.stats }

// item is one entity on its way from the workers to the writer.
type item struct {
	kind  middle.Kind
	id    int64
	data  []byte
	fault *middle.Fault

	node *middle.Node

	// rel is set for relations; data stays nil until pending relation
	// members are resolved by the writer.
	rel     *middle.Relation
	pending []int
}

// phase is the resolve/write pipeline for one run of same-kind entities.
type phase struct {
	kind    middle.Kind
	in      chan rill.Try[osm.Object]
	done    chan struct{}
	err     error
	started time.Time
}

func (p *phase) send(obj osm.Object) bool {
	select {
	case p.in <- rill.Wrap(obj, nil):
		return true
	case <-p.done:
		return false
	}
}

func (p *phase) wait() error {
	close(p.in)
	<-p.done
	return p.err
}

// Run consumes scanner to the end. Per-entity faults are counted and do not
// stop the run unless HaltOnError is set. Store failures and source errors
// are returned.
func (d *Denormalizer) Run(ctx context.Context, scanner osm.Scanner) error {
	var cur *phase
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		obj := scanner.Object()
		kind, ok := objectKind(obj)
		if !ok {
			continue
		}

		if cur == nil || cur.kind != kind {
			if err := d.endPhase(ctx, cur); err != nil {
				return err
			}
			cur = d.startPhase(ctx, kind)
		}

		d.stats.For(kind).Read.Add(1)
		if !cur.send(obj) {
			break
		}
	}

	if err := d.endPhase(ctx, cur); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read source: %w", err)
	}
	return nil
}

func objectKind(obj osm.Object) (middle.Kind, bool) {
	switch obj.(type) {
	case *osm.Node:
		return middle.KindNode, true
	case *osm.Way:
		return middle.KindWay, true
	case *osm.Relation:
		return middle.KindRelation, true
	}
	return 0, false
}

func (d *Denormalizer) startPhase(ctx context.Context, kind middle.Kind) *phase {
	d.log.Info("Denormalizing", zap.String("kind", kind.Plural()), zap.Int("workers", d.opts.Workers))

	p := &phase{
		kind:    kind,
		in:      make(chan rill.Try[osm.Object], d.opts.Buffer),
		done:    make(chan struct{}),
		started: time.Now(),
	}

	resolved := rill.OrderedMap(p.in, d.opts.Workers, d.resolve)
	go func() {
		defer close(p.done)
		p.err = rill.ForEach(resolved, 1, func(it *item) error {
			return d.commit(ctx, it)
		})
	}()
	return p
}

// endPhase waits for p to drain and makes its entities visible to the next
// phase.
func (d *Denormalizer) endPhase(ctx context.Context, p *phase) error {
	if p == nil {
		return nil
	}
	if err := p.wait(); err != nil {
		return err
	}
	if err := d.stores.For(p.kind).Flush(); err != nil {
		return err
	}

	switch p.kind {
	case middle.KindNode:
		if c := d.opts.NodeCache; c != nil {
			if err := c.Sync(); err != nil {
				return fmt.Errorf("failed to sync flat nodes: %w", err)
			}
		}
	case middle.KindRelation:
		if err := d.sweepDeferred(ctx); err != nil {
			return err
		}
		if err := d.stores.Relations.Flush(); err != nil {
			return err
		}
	}

	s := d.stats.For(p.kind)
	d.log.Info("Denormalized",
		zap.String("kind", p.kind.Plural()),
		zap.Int64("read", s.Read.Load()),
		zap.Int64("written", s.Written.Load()),
		zap.Int64("unresolved", s.Unresolved.Load()),
		zap.Int64("malformed", s.Malformed.Load()),
		zap.Duration("duration", time.Since(p.started).Round(time.Millisecond)),
	)
	return nil
}

// commit runs on the single writer goroutine, in source order.
func (d *Denormalizer) commit(ctx context.Context, it *item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if it.fault != nil {
		return d.fault(it.fault)
	}
	if it.rel != nil && it.data == nil {
		ready, err := d.finishRelation(it)
		if err != nil || !ready {
			return err
		}
	}
	return d.write(it)
}

func (d *Denormalizer) write(it *item) error {
	if err := d.stores.For(it.kind).Put(uint64(it.id), it.data); err != nil {
		return fmt.Errorf("failed to store %s %d: %w", it.kind, it.id, err)
	}
	if n := it.node; n != nil && d.opts.NodeCache != nil {
		if err := d.opts.NodeCache.Put(n.ID, n.Lon, n.Lat); err != nil && !errors.Is(err, nodeindex.ErrOutOfRange) {
			return err
		}
	}
	d.stats.For(it.kind).Written.Add(1)
	return nil
}

// fault records f and returns it when the run must halt.
func (d *Denormalizer) fault(f *middle.Fault) error {
	c := d.stats.For(f.Kind)
	if errors.Is(f, middle.ErrUnresolvedReference) {
		c.Unresolved.Add(1)
	} else {
		c.Malformed.Add(1)
	}

	if c.Unresolved.Load()+c.Malformed.Load() <= faultLogLimit {
		d.log.Warn("Entity dropped", zap.String("class", middle.FaultClass(f)), zap.Error(f))
	} else {
		d.log.Debug("Entity dropped", zap.String("class", middle.FaultClass(f)), zap.Error(f))
	}

	if d.opts.OnFault != nil {
		d.opts.OnFault(f)
	}
	if d.opts.HaltOnError {
		return f
	}
	return nil
}
