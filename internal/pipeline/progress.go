package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// progressInterval is how often live progress is logged and drawn.
const progressInterval = 5 * time.Second

// ProgressTracker turns running counters into percentage, ETA and
// throughput. total is in the unit of the done counter; 0 means unknown,
// as for stdin input.
type ProgressTracker struct {
	total     int64
	startTime time.Time
}

// NewProgressTracker starts tracking now.
func NewProgressTracker(total int64) *ProgressTracker {
	return &ProgressTracker{total: total, startTime: time.Now()}
}

// Progress is one evaluation of a tracker.
type Progress struct {
	Percentage float64
	Elapsed    time.Duration
	ETA        time.Duration
	Throughput float64 // items per second
}

// Calculate evaluates the tracker for count items handled and done units of
// work out of the total.
func (p *ProgressTracker) Calculate(count, done int64) Progress {
	elapsed := time.Since(p.startTime)
	out := Progress{Elapsed: elapsed.Round(time.Second)}
	secs := elapsed.Seconds()
	if secs > 0 {
		out.Throughput = float64(count) / secs
	}
	if p.total <= 0 || done <= 0 {
		return out
	}

	out.Percentage = min(float64(done)/float64(p.total)*100, 100)
	if out.Percentage < 100 && secs > 0 {
		remaining := float64(p.total-done) / (float64(done) / secs)
		out.ETA = time.Duration(remaining * float64(time.Second)).Round(time.Second)
	}
	return out
}

// FormatETA renders d as "1h 2m 3s", dropping leading zero units.
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "calculating..."
	}
	secs := int64(d.Round(time.Second) / time.Second)
	h, m, s := secs/3600, secs/60%60, secs%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatThroughput renders a rate as "950/s", "1.5K/s" or "2.5M/s".
func FormatThroughput(perSec float64) string {
	for _, unit := range []struct {
		scale  float64
		suffix string
	}{{1e6, "M"}, {1e3, "K"}} {
		if perSec >= unit.scale {
			return fmt.Sprintf("%.1f%s/s", perSec/unit.scale, unit.suffix)
		}
	}
	return fmt.Sprintf("%.0f/s", perSec)
}

// FormatBytes renders a byte count with binary units.
func FormatBytes(n int64) string {
	return humanize.IBytes(uint64(max(n, 0)))
}

// monitor reports the live progress of one pass.
type monitor struct {
	msg   string // log message
	label string // bar description
	total int64
	bytes bool
	// sample returns items handled, work done in the unit of total, and
	// extra log fields.
	sample func() (count, done int64, fields []zap.Field)
}

// watch runs m until the returned stop is called. stop reports the final
// state before returning.
func (c *Coordinator) watch(ctx context.Context, m monitor) (stop func()) {
	tracker := NewProgressTracker(m.total)
	bar := newBar(c.cfg.Progress, m.total, m.label, m.bytes)

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		tick(watchCtx, progressInterval, func() {
			count, work, fields := m.sample()
			p := tracker.Calculate(count, work)
			if bar != nil {
				_ = bar.Set64(work)
			}
			c.log.Debug(m.msg, append(fields,
				zap.String("percent", fmt.Sprintf("%.1f%%", p.Percentage)),
				zap.String("eta", FormatETA(p.ETA)),
				zap.String("rate", FormatThroughput(p.Throughput)))...)
		})
		if bar != nil {
			_ = bar.Finish()
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// tick calls fn every interval until ctx is done, then once more so the last
// state is reported.
func tick(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fn()
			return
		case <-ticker.C:
			fn()
		}
	}
}

// newBar returns a terminal progress bar, or nil when disabled or the total
// is unknown.
func newBar(enabled bool, total int64, description string, bytes bool) *progressbar.ProgressBar {
	if !enabled || total <= 0 {
		return nil
	}
	if bytes {
		return progressbar.DefaultBytes(total, description)
	}
	return progressbar.Default(total, description)
}
