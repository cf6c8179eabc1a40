package spatial

import (
	"context"
	"fmt"
	"time"

	"github.com/destel/rill"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osmingest-go/internal/logger"
	"github.com/wegman-software/osmingest-go/internal/middle"
	"github.com/wegman-software/osmingest-go/internal/style"
)

const (
	defaultBatchSize = 1000
	faultLogLimit    = 20
)

// WriterOptions configure pass 2.
type WriterOptions struct {
	// BatchSize is the number of entries per sink insert.
	BatchSize int
	// Style selects which entities are written; nil writes everything.
	Style *style.Config
	// Payload is one of PayloadRecord, PayloadWKB or PayloadNone.
	Payload string
	// SRID of WKB payloads, 4326 or 3857.
	SRID int
	// Kinds to write; defaults to all.
	Kinds []middle.Kind
	// OnFault is called for every malformed record and rejected entry. It
	// may be called from several goroutines at once.
	OnFault func(*middle.Fault)
}

// Writer scans finalized stores and inserts one entry per entity with a
// bounding box. Kinds are written concurrently; entries of one kind are
// inserted in ascending id order.
type Writer struct {
	sink  Sink
	opts  WriterOptions
	stats *Stats
	log   *zap.Logger
}

// NewWriter creates a pass 2 writer inserting into sink.
func NewWriter(sink Sink, opts WriterOptions) (*Writer, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	format, err := ParsePayloadFormat(opts.Payload)
	if err != nil {
		return nil, err
	}
	opts.Payload = format
	if _, err := newPayloader(opts.Payload, opts.SRID); err != nil {
		return nil, err
	}
	if len(opts.Kinds) == 0 {
		opts.Kinds = middle.Kinds
	}
	return &Writer{sink: sink, opts: opts, stats: &Stats{}, log: logger.Get()}, nil
}

// Stats returns the live counters of the run.
func (w *Writer) Stats() *Stats { return w.stats }

// Run writes every configured kind of stores to the sink.
func (w *Writer) Run(ctx context.Context, stores *middle.Stores) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range w.opts.Kinds {
		kind := kind
		g.Go(func() error {
			if err := w.runKind(gctx, kind, stores); err != nil {
				return fmt.Errorf("%s: %w", kind.Plural(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (w *Writer) runKind(ctx context.Context, kind middle.Kind, stores *middle.Stores) error {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pl, err := newPayloader(w.opts.Payload, w.opts.SRID)
	if err != nil {
		return err
	}
	filter := w.opts.Style.Filter(kind)
	counters := w.stats.For(kind)

	it := stores.For(kind).Scan()
	w.log.Info("Writing spatial entries", zap.String("kind", kind.Plural()), zap.Int("records", it.Len()))

	entries := make(chan rill.Try[Entry], w.opts.BatchSize)
	go func() {
		defer close(entries)
		for it.Next() {
			counters.Scanned.Add(1)
			e, ok := w.entry(kind, it.ID(), it.Bytes(), pl, filter.Match)
			if !ok {
				continue
			}
			select {
			case entries <- rill.Wrap(e, nil):
			case <-ctx.Done():
				return
			}
		}
		if err := it.Err(); err != nil {
			select {
			case entries <- rill.Try[Entry]{Error: err}:
			case <-ctx.Done():
			}
		}
	}()

	batches := rill.Batch(entries, w.opts.BatchSize, -1)
	err = rill.ForEach(batches, 1, func(batch []Entry) error {
		return w.insertBatch(ctx, kind, batch)
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s := counters.snapshot()
	w.log.Info("Spatial entries written",
		zap.String("kind", kind.Plural()),
		zap.Int64("scanned", s.Scanned),
		zap.Int64("inserted", s.Inserted),
		zap.Int64("no_bbox", s.NoBBox),
		zap.Int64("filtered", s.Filtered),
		zap.Int64("rejected", s.Rejected),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
	)
	return nil
}

// entry turns one stored record into a spatial entry. ok is false when the
// record is skipped.
func (w *Writer) entry(kind middle.Kind, id uint64, raw []byte, pl *payloader, match func(middle.Tags) bool) (Entry, bool) {
	counters := w.stats.For(kind)

	rec, err := middle.Decode(kind, raw)
	if err != nil {
		counters.Malformed.Add(1)
		w.fault(counters.Malformed.Load(), middle.Malformed(kind, int64(id), "undecodable record: %v", err))
		return Entry{}, false
	}

	b := rec.Bound()
	if b == nil {
		counters.NoBBox.Add(1)
		return Entry{}, false
	}
	if !match(rec.TagList()) {
		counters.Filtered.Add(1)
		return Entry{}, false
	}

	payload, err := pl.build(rec, raw)
	if err != nil {
		counters.Malformed.Add(1)
		w.fault(counters.Malformed.Load(), middle.Malformed(kind, int64(id), "payload: %v", err))
		return Entry{}, false
	}
	return Entry{Kind: kind, ID: int64(id), Bound: *b, Payload: payload}, true
}

// insertBatch inserts batch, falling back to one insert per entry when the
// sink rejects the batch so that one bad entry does not drop its neighbors.
func (w *Writer) insertBatch(ctx context.Context, kind middle.Kind, batch []Entry) error {
	counters := w.stats.For(kind)

	err := w.sink.Insert(ctx, batch)
	if err == nil {
		counters.Inserted.Add(int64(len(batch)))
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if len(batch) > 1 {
		w.log.Debug("Batch rejected, retrying entries one by one",
			zap.String("kind", kind.Plural()), zap.Int("size", len(batch)), zap.Error(err))
	}

	for i := range batch {
		if len(batch) > 1 {
			err = w.sink.Insert(ctx, batch[i:i+1])
		}
		if err == nil {
			counters.Inserted.Add(1)
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		counters.Rejected.Add(1)
		w.fault(counters.Rejected.Load(), middle.InsertRejected(kind, batch[i].ID, err))
	}
	return nil
}

func (w *Writer) fault(n int64, f *middle.Fault) {
	if n <= faultLogLimit {
		w.log.Warn("Entity not indexed", zap.String("class", middle.FaultClass(f)), zap.Error(f))
	} else {
		w.log.Debug("Entity not indexed", zap.String("class", middle.FaultClass(f)), zap.Error(f))
	}
	if w.opts.OnFault != nil {
		w.opts.OnFault(f)
	}
}
