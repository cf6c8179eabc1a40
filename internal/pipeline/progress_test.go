package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wegman-software/osmingest-go/internal/config"
)

func TestFormatETA(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "calculating..."},
		{-time.Second, "calculating..."},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 1*time.Minute + 1500*time.Millisecond, "2h 1m 2s"},
	}
	for _, tt := range tests {
		if got := FormatETA(tt.in); got != tt.want {
			t.Errorf("FormatETA(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatThroughput(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0/s"},
		{999, "999/s"},
		{1500, "1.5K/s"},
		{2_500_000, "2.5M/s"},
	}
	for _, tt := range tests {
		if got := FormatThroughput(tt.in); got != tt.want {
			t.Errorf("FormatThroughput(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{-1, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProgressTrackerCalculate(t *testing.T) {
	tracker := NewProgressTracker(1000)
	tracker.startTime = time.Now().Add(-10 * time.Second)

	p := tracker.Calculate(500, 250)
	if p.Percentage != 25 {
		t.Errorf("Percentage = %v, want 25", p.Percentage)
	}
	if p.ETA < 29*time.Second || p.ETA > 31*time.Second {
		t.Errorf("ETA = %v, want about 30s", p.ETA)
	}
	if p.Throughput < 49 || p.Throughput > 51 {
		t.Errorf("Throughput = %v, want about 50/s", p.Throughput)
	}

	done := tracker.Calculate(500, 2000)
	if done.Percentage != 100 || done.ETA != 0 {
		t.Errorf("overshoot: Percentage = %v, ETA = %v", done.Percentage, done.ETA)
	}

	unknown := NewProgressTracker(0).Calculate(10, 10)
	if unknown.Percentage != 0 || unknown.ETA != 0 {
		t.Errorf("unknown total: Percentage = %v, ETA = %v", unknown.Percentage, unknown.ETA)
	}
}

func TestTickReportsOnCancel(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tick(ctx, time.Hour, func() { calls.Add(1) })
		close(done)
	}()
	cancel()
	<-done
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestNewBarDisabled(t *testing.T) {
	if newBar(false, 100, "x", false) != nil {
		t.Error("bar created while disabled")
	}
	if newBar(true, 0, "x", true) != nil {
		t.Error("bar created for unknown total")
	}
	if newBar(true, 100, "x", false) == nil {
		t.Error("bar not created")
	}
}

func TestWatchReportsFinalState(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	c := &Coordinator{cfg: config.DefaultConfig(), log: zap.New(core)}

	var n atomic.Int64
	stop := c.watch(context.Background(), monitor{
		msg:   "progress",
		total: 10,
		sample: func() (int64, int64, []zap.Field) {
			v := n.Load()
			return v, v, []zap.Field{zap.Int64("n", v)}
		},
	})
	n.Store(10)
	stop()

	entries := logs.FilterMessage("progress").All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["n"] != int64(10) || fields["percent"] != "100.0%" {
		t.Errorf("fields = %v", fields)
	}
}
