// Package metrics samples host and process resources while a pass runs and
// logs them next to pipeline gauges such as store size.
package metrics

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// MinInterval is the shortest sampling interval; shorter ones fall back to
// DefaultInterval.
const (
	MinInterval     = time.Second
	DefaultInterval = 30 * time.Second
)

// SystemMetrics is one sample.
type SystemMetrics struct {
	CPUPercent        float64 // System-wide CPU usage (0-100%)
	ProcessCPUPercent float64 // Can exceed 100% on multi-core
	IOWaitPercent     float64
	ProcessRSS        uint64 // Includes mapped store pages
	MemoryUsed        uint64
	MemoryPercent     float64
	DiskReadBps       float64
	DiskWriteBps      float64
	// DiskFree is the free space of the volume holding the watched path.
	DiskFree  uint64
	Gauges    map[string]int64
	Timestamp time.Time
}

// Gauge reports a pipeline value, for example bytes written to the stores.
type Gauge func() int64

// Collector periodically samples and logs system metrics
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process

	watchPath string
	gauges    map[string]Gauge

	cpuPrev  *cpu.TimesStat
	diskPrev *diskSnapshot

	mu   sync.RWMutex
	last *SystemMetrics
}

type diskSnapshot struct {
	at           time.Time
	read, writes uint64
}

// Option configures a Collector.
type Option func(*Collector)

// WithWatchPath reports the free space of the volume holding path.
func WithWatchPath(path string) Option {
	return func(c *Collector) { c.watchPath = path }
}

// WithGauge adds a named pipeline value to every sample.
func WithGauge(name string, g Gauge) Option {
	return func(c *Collector) {
		if c.gauges == nil {
			c.gauges = make(map[string]Gauge)
		}
		c.gauges[name] = g
	}
}

// NewCollector creates a new metrics collector
func NewCollector(interval time.Duration, logger *zap.Logger, opts ...Option) *Collector {
	if interval < MinInterval {
		interval = DefaultInterval
	}

	// A missing process handle only disables the process fields.
	proc, _ := process.NewProcess(int32(os.Getpid()))

	c := &Collector{interval: interval, logger: logger, proc: proc}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start samples immediately and then every interval until ctx is done.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect()
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// GetMetrics returns the last sample, or nil before the first one.
func (c *Collector) GetMetrics() *SystemMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Collector) collect() {
	m := c.sample()

	c.mu.Lock()
	c.last = m
	c.mu.Unlock()

	fields := []zap.Field{
		zap.Float64("sys_cpu", m.CPUPercent),
		zap.Float64("proc_cpu", m.ProcessCPUPercent),
		zap.Float64("iowait", m.IOWaitPercent),
		zap.Float64("mem_pct", m.MemoryPercent),
		zap.String("mem_used", humanize.IBytes(m.MemoryUsed)),
		zap.String("rss", humanize.IBytes(m.ProcessRSS)),
		zap.String("disk_r", formatRate(m.DiskReadBps)),
		zap.String("disk_w", formatRate(m.DiskWriteBps)),
	}
	if c.watchPath != "" {
		fields = append(fields, zap.String("disk_free", humanize.IBytes(m.DiskFree)))
	}
	for name, v := range m.Gauges {
		fields = append(fields, zap.Int64(name, v))
	}
	c.logger.Info("System metrics", fields...)
}

func (c *Collector) sample() *SystemMetrics {
	m := &SystemMetrics{Timestamp: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		m.CPUPercent = pct[0]
	}
	if times, err := cpu.Times(false); err == nil && len(times) > 0 {
		m.IOWaitPercent = c.ioWait(times[0])
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			m.ProcessCPUPercent = pct
		}
		if info, err := c.proc.MemoryInfo(); err == nil {
			m.ProcessRSS = info.RSS
		}
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		m.MemoryPercent = vmem.UsedPercent
		m.MemoryUsed = vmem.Used
	}
	if counters, err := disk.IOCounters(); err == nil {
		m.DiskReadBps, m.DiskWriteBps = c.diskRates(m.Timestamp, counters)
	}
	if c.watchPath != "" {
		if usage, err := disk.Usage(c.watchPath); err == nil {
			m.DiskFree = usage.Free
		}
	}
	if len(c.gauges) > 0 {
		m.Gauges = make(map[string]int64, len(c.gauges))
		for name, g := range c.gauges {
			m.Gauges[name] = g()
		}
	}
	return m
}

// ioWait returns the share of CPU time spent waiting for I/O since the
// previous sample.
func (c *Collector) ioWait(cur cpu.TimesStat) float64 {
	prev := c.cpuPrev
	c.cpuPrev = &cur
	if prev == nil {
		return 0
	}

	total := (cur.User - prev.User) + (cur.System - prev.System) +
		(cur.Idle - prev.Idle) + (cur.Iowait - prev.Iowait) +
		(cur.Irq - prev.Irq) + (cur.Softirq - prev.Softirq) +
		(cur.Steal - prev.Steal)
	if total <= 0 {
		return 0
	}
	return (cur.Iowait - prev.Iowait) / total * 100
}

// diskRates returns read and write bytes per second across all devices since
// the previous sample. Counters that went backwards are treated as zero.
func (c *Collector) diskRates(now time.Time, counters map[string]disk.IOCountersStat) (readBps, writeBps float64) {
	cur := &diskSnapshot{at: now}
	for _, counter := range counters {
		cur.read += counter.ReadBytes
		cur.writes += counter.WriteBytes
	}

	prev := c.diskPrev
	c.diskPrev = cur
	if prev == nil {
		return 0, 0
	}
	elapsed := now.Sub(prev.at).Seconds()
	if elapsed < 0.1 {
		return 0, 0
	}
	if cur.read >= prev.read {
		readBps = float64(cur.read-prev.read) / elapsed
	}
	if cur.writes >= prev.writes {
		writeBps = float64(cur.writes-prev.writes) / elapsed
	}
	return readBps, writeBps
}

// formatRate formats a byte rate such as "12 MiB/s"
func formatRate(bps float64) string {
	if bps < 1 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bps)) + "/s"
}
