package denorm

import (
	"context"

	"go.uber.org/zap"

	"github.com/wegman-software/osmingest-go/internal/middle"
)

// sweepDeferred retries deferred relations until a round makes no progress.
// Relations still pending after that reference relations missing from the
// source, or each other in a cycle.
func (d *Denormalizer) sweepDeferred(ctx context.Context) error {
	if len(d.deferred) == 0 {
		return nil
	}
	d.log.Info("Sweeping deferred relations", zap.Int("count", len(d.deferred)))

	for round := 1; len(d.deferred) > 0; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.stores.Relations.Flush(); err != nil {
			return err
		}

		var still []*item
		for _, it := range d.deferred {
			if err := d.retryPending(it); err != nil {
				return err
			}
			if len(it.pending) > 0 {
				still = append(still, it)
				continue
			}
			if err := d.storeSwept(it); err != nil {
				return err
			}
		}

		d.log.Debug("Sweep round",
			zap.Int("round", round),
			zap.Int("resolved", len(d.deferred)-len(still)),
			zap.Int("remaining", len(still)),
		)
		if len(still) == len(d.deferred) {
			d.deferred = still
			break
		}
		d.deferred = still
	}

	leftover := d.deferred
	d.deferred = nil
	for _, it := range leftover {
		if d.opts.SkipMissing {
			d.stats.For(middle.KindRelation).SkippedRefs.Add(int64(len(it.pending)))
			it.pending = nil
			if err := d.storeSwept(it); err != nil {
				return err
			}
			continue
		}
		ref := it.rel.Members[it.pending[0]].Ref
		if err := d.fault(middle.Unresolved(middle.KindRelation, it.id, middle.KindRelation, ref)); err != nil {
			return err
		}
	}
	return nil
}

// storeSwept writes a relation leaving the sweep. A relation that cannot be
// encoded is reported as malformed.
func (d *Denormalizer) storeSwept(it *item) error {
	if err := encodeRelation(it); err != nil {
		return d.fault(middle.Malformed(middle.KindRelation, it.id, "%v", err))
	}
	return d.write(it)
}
