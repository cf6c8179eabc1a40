package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wegman-software/osmingest-go/internal/config"
	"github.com/wegman-software/osmingest-go/internal/denorm"
	"github.com/wegman-software/osmingest-go/internal/logger"
	"github.com/wegman-software/osmingest-go/internal/metrics"
	"github.com/wegman-software/osmingest-go/internal/middle"
	"github.com/wegman-software/osmingest-go/internal/nodeindex"
	"github.com/wegman-software/osmingest-go/internal/osmsource"
	"github.com/wegman-software/osmingest-go/internal/spatial"
	"github.com/wegman-software/osmingest-go/internal/style"
)

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithSource replaces opening cfg.InputFile with src. The coordinator closes
// it at the end of pass 1.
func WithSource(src *osmsource.Source) Option {
	return func(c *Coordinator) { c.source = src }
}

// WithSink replaces the sink built from the configuration. The caller keeps
// ownership and must close it.
func WithSink(sink spatial.Sink) Option {
	return func(c *Coordinator) { c.sink = sink }
}

// Coordinator runs the two passes: denormalization into the stores, then
// spatial indexing from the finalized stores.
type Coordinator struct {
	cfg    *config.Config
	source *osmsource.Source
	sink   spatial.Sink
	log    *zap.Logger

	// active holds the stores of the running pass for the metrics gauges.
	active atomic.Pointer[middle.Stores]
}

// NewCoordinator creates a new pipeline coordinator
func NewCoordinator(cfg *config.Config, opts ...Option) *Coordinator {
	c := &Coordinator{cfg: cfg, log: logger.Get()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes pass 1 and, if it succeeded, pass 2.
func (c *Coordinator) Run(ctx context.Context) *Result {
	started := time.Now()
	stop := c.startMetrics(ctx)
	defer stop()

	res := &Result{}
	if err := c.denormalize(ctx, res); err != nil {
		return c.report(res.finish(ctx, err, started))
	}
	return c.report(res.finish(ctx, c.index(ctx, res), started))
}

// RunDenormalize executes pass 1 only.
func (c *Coordinator) RunDenormalize(ctx context.Context) *Result {
	started := time.Now()
	stop := c.startMetrics(ctx)
	defer stop()

	res := &Result{}
	return c.report(res.finish(ctx, c.denormalize(ctx, res), started))
}

// RunSpatial executes pass 2 only against existing stores.
func (c *Coordinator) RunSpatial(ctx context.Context) *Result {
	started := time.Now()
	stop := c.startMetrics(ctx)
	defer stop()

	res := &Result{}
	return c.report(res.finish(ctx, c.index(ctx, res), started))
}

func (c *Coordinator) startMetrics(ctx context.Context) func() {
	if c.cfg.MetricsInterval <= 0 {
		return func() {}
	}
	metricsCtx, cancel := context.WithCancel(ctx)
	collector := metrics.NewCollector(c.cfg.MetricsInterval, c.log,
		metrics.WithWatchPath(c.cfg.OutputDir),
		metrics.WithGauge("store_bytes", func() int64 {
			if s := c.active.Load(); s != nil {
				return s.Size()
			}
			return 0
		}))
	go collector.Start(metricsCtx)
	c.log.Info("System metrics collection started",
		zap.Duration("interval", c.cfg.MetricsInterval))
	return cancel
}

func (c *Coordinator) openSource(ctx context.Context) (*osmsource.Source, error) {
	if c.source != nil {
		return c.source, nil
	}
	return osmsource.Open(ctx, c.cfg.InputFile, c.cfg.Workers)
}

// denormalize runs pass 1 and finalizes the stores, also after a failed
// run so that every record put so far is readable.
func (c *Coordinator) denormalize(ctx context.Context, res *Result) (err error) {
	src, err := c.openSource(ctx)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, src.Close()) }()

	storeDir := c.cfg.StorePath()
	stores, err := middle.CreateStores(storeDir)
	if err != nil {
		return fmt.Errorf("failed to create stores: %w", err)
	}
	defer func() { err = multierr.Append(err, stores.Close()) }()
	c.active.Store(stores)
	defer c.active.Store(nil)

	opts := denorm.Options{
		Workers:       c.cfg.Workers,
		Buffer:        c.cfg.Buffer,
		SkipMissing:   c.cfg.SkipMissing,
		HaltOnError:   c.cfg.HaltOnError,
		RelationSweep: c.cfg.RelationSweep,
		MaxDeferred:   c.cfg.MaxDeferred,
		DropMetadata:  c.cfg.DropMetadata,
	}
	if c.cfg.FlatNodesFile != "" {
		if err := os.MkdirAll(filepath.Dir(c.cfg.FlatNodesFile), 0755); err != nil {
			return fmt.Errorf("failed to create flat nodes directory: %w", err)
		}
		flat, ferr := nodeindex.Create(c.cfg.FlatNodesFile, c.cfg.FlatNodesMaxID)
		if ferr != nil {
			return ferr
		}
		defer func() { err = multierr.Append(err, flat.Close()) }()
		opts.NodeCache = flat
	}

	c.log.Info("Starting denormalization",
		zap.String("input", src.Name()),
		zap.String("size", FormatBytes(src.Size())),
		zap.String("store", storeDir),
		zap.Int("workers", opts.Workers))

	d := denorm.New(stores, opts)

	stop := c.watch(ctx, monitor{
		msg:   "Denormalization progress",
		label: "denormalizing",
		total: src.Size(),
		bytes: true,
		sample: func() (int64, int64, []zap.Field) {
			s := d.Stats().Summary()
			return s.Nodes.Read + s.Ways.Read + s.Relations.Read, src.BytesScanned(), []zap.Field{
				zap.Int64("nodes", s.Nodes.Written),
				zap.Int64("ways", s.Ways.Written),
				zap.Int64("relations", s.Relations.Written),
				zap.Int64("faults", s.Faults()),
			}
		},
	})
	runErr := d.Run(ctx, src)
	stop()

	res.Denormalize = d.Stats().Summary()
	if ferr := stores.Finalize(); ferr != nil {
		runErr = multierr.Append(runErr, ferr)
	}
	return runErr
}

func (c *Coordinator) openSink(ctx context.Context) (spatial.Sink, bool, error) {
	if c.sink != nil {
		return c.sink, false, nil
	}
	path := c.cfg.IndexFile()
	if c.cfg.Sink != spatial.BackendPostGIS {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, false, fmt.Errorf("failed to create index directory: %w", err)
		}
	}
	sink, err := spatial.Open(ctx, spatial.Options{
		Backend:    c.cfg.Sink,
		Path:       path,
		MaxZoom:    c.cfg.MaxZoom,
		ConnString: c.cfg.ConnectionString(),
		Schema:     c.cfg.DBSchema,
		Table:      c.cfg.DBTable,
		MaxConns:   c.cfg.DBMaxConns,
	})
	return sink, true, err
}

// index runs pass 2 over the finalized stores.
func (c *Coordinator) index(ctx context.Context, res *Result) (err error) {
	var st *style.Config
	if c.cfg.StyleFile != "" {
		if st, err = style.LoadConfig(c.cfg.StyleFile); err != nil {
			return err
		}
	}

	stores, err := middle.OpenStores(c.cfg.StorePath())
	if err != nil {
		return fmt.Errorf("failed to open stores: %w", err)
	}
	defer func() { err = multierr.Append(err, stores.Close()) }()
	c.active.Store(stores)
	defer c.active.Store(nil)

	sink, owned, err := c.openSink(ctx)
	if err != nil {
		return err
	}
	if owned {
		defer func() { err = multierr.Append(err, sink.Close()) }()
	}

	w, err := spatial.NewWriter(sink, spatial.WriterOptions{
		BatchSize: c.cfg.BatchSize,
		Style:     st,
		Payload:   c.cfg.Payload,
		SRID:      c.cfg.Projection,
	})
	if err != nil {
		return err
	}

	total := int64(stores.Nodes.Len() + stores.Ways.Len() + stores.Relations.Len())
	c.log.Info("Starting spatial indexing",
		zap.String("sink", c.cfg.Sink),
		zap.Int64("records", total))

	stats := w.Stats()
	stop := c.watch(ctx, monitor{
		msg:   "Spatial indexing progress",
		label: "indexing",
		total: total,
		sample: func() (int64, int64, []zap.Field) {
			scanned := stats.Scanned()
			return scanned, scanned, []zap.Field{
				zap.Int64("scanned", scanned),
				zap.Int64("inserted", stats.Summary().Inserted()),
			}
		},
	})
	runErr := w.Run(ctx, stores)
	stop()

	res.Spatial = w.Stats().Summary()
	return runErr
}

// report logs the final summary of a run.
func (c *Coordinator) report(res *Result) *Result {
	fields := []zap.Field{
		zap.Stringer("status", res.Status),
		zap.Duration("duration", res.Duration.Round(time.Millisecond)),
	}
	for _, kind := range middle.Kinds {
		d := res.Denormalize.For(kind)
		s := res.Spatial.For(kind)
		fields = append(fields,
			zap.Int64(kind.Plural()+"_written", d.Written),
			zap.Int64(kind.Plural()+"_unresolved", d.Unresolved),
			zap.Int64(kind.Plural()+"_malformed", d.Malformed+s.Malformed),
			zap.Int64(kind.Plural()+"_indexed", s.Inserted),
			zap.Int64(kind.Plural()+"_rejected", s.Rejected),
		)
	}
	if res.Err != nil {
		fields = append(fields, zap.Error(res.Err))
		c.log.Error("Run finished with error", fields...)
		return res
	}
	c.log.Info("Run complete", fields...)
	return res
}
