// Package metrics provides in-process timing instrumentation for the
// histviz engine.
//
// Each stage of the frame pipeline (LoD filter, simulation tick, buffer
// upload, draw passes) records into a package-level TimingMetric. Recording
// uses atomics only, so it is safe from the frame loop and the offload
// workers at the same time. Collection is on by default and can be switched
// off with HV_METRICS=0.
//
//	func (p *Pipeline) upload() {
//	    defer metrics.Timer(metrics.BufferUpload)()
//	    ...
//	}
package metrics

import (
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var enabled atomic.Bool

func init() {
	enabled.Store(os.Getenv("HV_METRICS") != "0")
}

// Enabled returns whether metrics collection is enabled.
func Enabled() bool {
	return enabled.Load()
}

// SetEnabled allows programmatic control of metrics collection.
func SetEnabled(e bool) {
	enabled.Store(e)
}

// TimingMetric tracks count, total, min and max for one named operation.
type TimingMetric struct {
	name    string
	count   atomic.Int64
	totalNs atomic.Int64
	maxNs   atomic.Int64
	minNs   atomic.Int64 // 0 means not set
}

// Record adds one measurement.
func (m *TimingMetric) Record(d time.Duration) {
	if !Enabled() {
		return
	}
	ns := d.Nanoseconds()
	m.count.Add(1)
	m.totalNs.Add(ns)

	for {
		old := m.maxNs.Load()
		if ns <= old || m.maxNs.CompareAndSwap(old, ns) {
			break
		}
	}
	for {
		old := m.minNs.Load()
		if old != 0 && ns >= old {
			break
		}
		if m.minNs.CompareAndSwap(old, ns) {
			break
		}
	}
}

// Name returns the metric name.
func (m *TimingMetric) Name() string { return m.name }

// Count returns the number of recorded measurements.
func (m *TimingMetric) Count() int64 { return m.count.Load() }

// avg is the mean duration, zero when nothing was recorded.
func (m *TimingMetric) avg() time.Duration {
	n := m.count.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(m.totalNs.Load() / n)
}

// Stats returns a consistent-enough snapshot of the metric.
func (m *TimingMetric) Stats() TimingStats {
	return TimingStats{
		Name:    m.name,
		Count:   m.count.Load(),
		TotalMs: float64(m.totalNs.Load()) / 1e6,
		AvgMs:   float64(m.avg()) / 1e6,
		MaxMs:   float64(m.maxNs.Load()) / 1e6,
		MinMs:   float64(m.minNs.Load()) / 1e6,
	}
}

// Reset clears all recorded measurements.
func (m *TimingMetric) Reset() {
	m.count.Store(0)
	m.totalNs.Store(0)
	m.maxNs.Store(0)
	m.minNs.Store(0)
}

// TimingStats holds a snapshot of timing statistics.
type TimingStats struct {
	Name    string  `json:"name"`
	Count   int64   `json:"count"`
	TotalMs float64 `json:"total_ms"`
	AvgMs   float64 `json:"avg_ms"`
	MaxMs   float64 `json:"max_ms"`
	MinMs   float64 `json:"min_ms,omitempty"`
}

// Timer returns a function that records the elapsed time when called.
func Timer(m *TimingMetric) func() {
	if !Enabled() || m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.Record(time.Since(start))
	}
}

// TimerWithCallback is Timer plus a callback receiving the duration, used
// where the caller also keeps its own last-value telemetry.
func TimerWithCallback(m *TimingMetric, cb func(time.Duration)) func() {
	start := time.Now()
	return func() {
		d := time.Since(start)
		if Enabled() && m != nil {
			m.Record(d)
		}
		if cb != nil {
			cb(d)
		}
	}
}

var (
	registryMu sync.Mutex
	registry   = map[string]*TimingMetric{}
)

// Register returns the metric with the given name, creating it on first use.
func Register(name string) *TimingMetric {
	registryMu.Lock()
	defer registryMu.Unlock()
	if m, ok := registry[name]; ok {
		return m
	}
	m := &TimingMetric{name: name}
	registry[name] = m
	return m
}

// Engine stage metrics.
var (
	Decode       = Register("decode")
	Normalize    = Register("normalize")
	Reconcile    = Register("reconcile")
	LoDFilter    = Register("lod_filter")
	LayoutTick   = Register("layout_tick")
	LayoutPlace  = Register("layout_place")
	BufferUpload = Register("buffer_upload")
	DrawPass     = Register("draw_pass")
	OverlayPass  = Register("overlay_pass")
	Frame        = Register("frame")
	Offload      = Register("offload")
	SourceLoad   = Register("source_load")
)

// AllTimingMetrics returns every registered metric sorted by name.
func AllTimingMetrics() []*TimingMetric {
	registryMu.Lock()
	out := make([]*TimingMetric, 0, len(registry))
	for _, m := range registry {
		out = append(out, m)
	}
	registryMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// ResetAll resets all timing metrics.
func ResetAll() {
	for _, m := range AllTimingMetrics() {
		m.Reset()
	}
}

// AllTimingStats returns stats for the metrics that recorded anything.
func AllTimingStats() []TimingStats {
	all := AllTimingMetrics()
	stats := make([]TimingStats, 0, len(all))
	for _, m := range all {
		if m.Count() > 0 {
			stats = append(stats, m.Stats())
		}
	}
	return stats
}
