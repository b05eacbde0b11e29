// Package monitor records pipeline timings and resource usage.  Recording
// never blocks frame production for longer than a short critical section and
// readers only copy from it, measurements of zero or less are ignored.
package monitor

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultFPSWindow is the number of recent frames the current FPS is
	// calculated over
	DefaultFPSWindow = 30
	// DefaultLatencyWindow is the number of recent frames the average
	// latency is calculated over
	DefaultLatencyWindow = 100
	// DefaultHistorySize is the number of latency and FPS samples kept for
	// LatencyHistory and FPSHistory
	DefaultHistorySize = 1000
)

// Options configures a Monitor, zero values take the defaults
type Options struct {
	FPSWindow     int
	LatencyWindow int
	HistorySize   int
	// Clock returns the current time, defaults to time.Now
	Clock  func() time.Time
	Logger *zap.Logger
}

// StageMetrics are the rolling timings of one pipeline stage
type StageMetrics struct {
	Count int64
	Mean  time.Duration
	Peak  time.Duration
}

// Metrics is a point in time snapshot of the monitor
type Metrics struct {
	FrameCount int64
	// CurrentFPS is the frame rate over the FPS window
	CurrentFPS float64
	// AverageFPS is the frame rate since start or the last Reset
	AverageFPS float64
	// AverageLatency and P95Latency are over the latency window
	AverageLatency time.Duration
	P95Latency     time.Duration
	// PeakLatency is the all time peak
	PeakLatency     time.Duration
	TotalProcessing time.Duration
	MemoryMB        float64
	PeakMemoryMB    float64
	CPUPercent      float64
	Uptime          time.Duration
	Stages          map[string]StageMetrics
}

type stage struct {
	lat   *window
	count int64
	peak  float64
}

// Monitor records per frame latency and derives rolling rates from it
type Monitor struct {
	opts Options
	log  *zap.Logger

	frameCount atomic.Int64
	totalMs    atomicFloat
	peakMs     atomicFloat
	currentFPS atomicFloat
	avgMs      atomicFloat
	memMB      atomicFloat
	peakMemMB  atomicFloat
	cpuPct     atomicFloat

	mu      sync.Mutex
	started time.Time
	// latency holds frame latencies in milliseconds
	latency *window
	// stamps holds frame completion times in nanoseconds since started
	stamps     *window
	fpsHistory *window
	stages     map[string]*stage
	scratch    []float64
}

// New returns a Monitor started now
func New(opts Options) *Monitor {

	if opts.FPSWindow < 2 {
		opts.FPSWindow = DefaultFPSWindow
	}

	if opts.LatencyWindow < 1 {
		opts.LatencyWindow = DefaultLatencyWindow
	}

	if opts.HistorySize < opts.LatencyWindow {
		opts.HistorySize = DefaultHistorySize
		if opts.HistorySize < opts.LatencyWindow {
			opts.HistorySize = opts.LatencyWindow
		}
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	m := &Monitor{
		opts:       opts,
		log:        log,
		latency:    newWindow(opts.HistorySize),
		stamps:     newWindow(opts.FPSWindow),
		fpsHistory: newWindow(opts.HistorySize),
		stages:     make(map[string]*stage),
	}

	m.started = opts.Clock()

	return m
}

// Record adds the end to end processing time of one frame
func (m *Monitor) Record(d time.Duration) {

	if d <= 0 {
		return
	}

	ms := durationMs(d)

	m.frameCount.Add(1)
	m.totalMs.Add(ms)
	m.peakMs.Max(ms)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.latency.push(ms)
	m.stamps.push(float64(m.opts.Clock().Sub(m.started)))

	m.scratch = m.latency.last(m.scratch[:0], m.opts.LatencyWindow)
	avg := stat.Mean(m.scratch, nil)
	m.avgMs.Store(avg)

	fps := m.windowFPS(avg)
	m.currentFPS.Store(fps)

	if fps > 0 {
		m.fpsHistory.push(fps)
	}
}

// windowFPS calculates the frame rate from the completion times in the FPS
// window.  When they all fall on the same instant the rate is derived from
// the average latency instead.  Must be called with the lock held.
func (m *Monitor) windowFPS(avgMs float64) float64 {

	if m.stamps.len() < 2 {
		return 0
	}

	m.scratch = m.stamps.last(m.scratch[:0], m.opts.FPSWindow)
	span := m.scratch[len(m.scratch)-1] - m.scratch[0]

	// whole nanoseconds keep steady rates exact
	if span > 0 {
		return float64(len(m.scratch)-1) * float64(time.Second) / span
	}

	if avgMs > 0 {
		return 1000 / avgMs
	}

	return 0
}

// RecordStage adds the processing time of a single pipeline stage
func (m *Monitor) RecordStage(name string, d time.Duration) {

	if d <= 0 {
		return
	}

	ms := durationMs(d)

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stages[name]

	if !ok {
		s = &stage{lat: newWindow(m.opts.LatencyWindow)}
		m.stages[name] = s
	}

	s.lat.push(ms)
	s.count++

	if ms > s.peak {
		s.peak = ms
	}
}

// RecordMemory sets the current memory usage in megabytes
func (m *Monitor) RecordMemory(mb float64) {

	if mb <= 0 {
		return
	}

	m.memMB.Store(mb)
	m.peakMemMB.Max(mb)
}

// RecordCPU sets the current CPU usage percentage
func (m *Monitor) RecordCPU(pct float64) {

	if pct < 0 {
		return
	}

	m.cpuPct.Store(pct)
}

// FrameCount returns the number of frames recorded
func (m *Monitor) FrameCount() int64 {
	return m.frameCount.Load()
}

// CurrentFPS returns the frame rate over the FPS window
func (m *Monitor) CurrentFPS() float64 {
	return m.currentFPS.Load()
}

// AverageLatency returns the mean frame latency over the latency window
func (m *Monitor) AverageLatency() time.Duration {
	return msDuration(m.avgMs.Load())
}

// PeakLatency returns the largest frame latency recorded
func (m *Monitor) PeakLatency() time.Duration {
	return msDuration(m.peakMs.Load())
}

// Snapshot returns the current metrics
func (m *Monitor) Snapshot() Metrics {

	out := Metrics{
		FrameCount:      m.frameCount.Load(),
		CurrentFPS:      m.currentFPS.Load(),
		AverageLatency:  msDuration(m.avgMs.Load()),
		PeakLatency:     msDuration(m.peakMs.Load()),
		TotalProcessing: msDuration(m.totalMs.Load()),
		MemoryMB:        m.memMB.Load(),
		PeakMemoryMB:    m.peakMemMB.Load(),
		CPUPercent:      m.cpuPct.Load(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out.Uptime = m.opts.Clock().Sub(m.started)

	if out.Uptime > 0 {
		out.AverageFPS = float64(out.FrameCount) * float64(time.Second) / float64(out.Uptime)
	}

	if m.latency.len() > 0 {
		m.scratch = m.latency.last(m.scratch[:0], m.opts.LatencyWindow)
		sort.Float64s(m.scratch)
		out.P95Latency = msDuration(stat.Quantile(0.95, stat.Empirical, m.scratch, nil))
	}

	if len(m.stages) > 0 {
		out.Stages = make(map[string]StageMetrics, len(m.stages))

		for name, s := range m.stages {
			m.scratch = s.lat.last(m.scratch[:0], s.lat.len())
			out.Stages[name] = StageMetrics{
				Count: s.count,
				Mean:  msDuration(stat.Mean(m.scratch, nil)),
				Peak:  msDuration(s.peak),
			}
		}
	}

	return out
}

// CheckPerformanceTargets reports whether the current frame rate is at least
// targetFPS and the average latency at most maxLatency
func (m *Monitor) CheckPerformanceTargets(targetFPS float64, maxLatency time.Duration) bool {
	return m.CurrentFPS() >= targetFPS && m.AverageLatency() <= maxLatency
}

// LatencyHistory returns the recorded frame latencies, oldest first
func (m *Monitor) LatencyHistory() []time.Duration {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.scratch = m.latency.last(m.scratch[:0], m.latency.len())
	out := make([]time.Duration, len(m.scratch))

	for i, ms := range m.scratch {
		out[i] = msDuration(ms)
	}

	return out
}

// FPSHistory returns the recorded frame rates, oldest first
func (m *Monitor) FPSHistory() []float64 {

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.fpsHistory.last(nil, m.fpsHistory.len())
}

// Reset clears all measurements and restarts the uptime clock
func (m *Monitor) Reset() {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.frameCount.Store(0)
	m.totalMs.Store(0)
	m.peakMs.Store(0)
	m.currentFPS.Store(0)
	m.avgMs.Store(0)
	m.memMB.Store(0)
	m.peakMemMB.Store(0)
	m.cpuPct.Store(0)

	m.latency.reset()
	m.stamps.reset()
	m.fpsHistory.reset()
	m.stages = make(map[string]*stage)
	m.started = m.opts.Clock()

	m.log.Debug("performance monitor reset")
}

// Summary returns a human readable report of the current metrics
func (m *Monitor) Summary() string {

	s := m.Snapshot()

	var b strings.Builder

	b.WriteString("Performance Summary:\n")
	fmt.Fprintf(&b, "  FPS: %.2f (avg: %.2f)\n", s.CurrentFPS, s.AverageFPS)
	fmt.Fprintf(&b, "  Latency: %.2fms (p95: %.2fms, peak: %.2fms)\n",
		durationMs(s.AverageLatency), durationMs(s.P95Latency), durationMs(s.PeakLatency))
	fmt.Fprintf(&b, "  Frames: %d\n", s.FrameCount)
	fmt.Fprintf(&b, "  Memory: %.2fMB (peak: %.2fMB)\n", s.MemoryMB, s.PeakMemoryMB)
	fmt.Fprintf(&b, "  CPU: %.2f%%\n", s.CPUPercent)
	fmt.Fprintf(&b, "  Total Time: %.2fs\n", s.TotalProcessing.Seconds())

	if len(s.Stages) > 0 {
		names := make([]string, 0, len(s.Stages))
		for name := range s.Stages {
			names = append(names, name)
		}
		sort.Strings(names)

		b.WriteString("  Stages:\n")

		for _, name := range names {
			st := s.Stages[name]
			fmt.Fprintf(&b, "    %-12s %.2fms (peak: %.2fms, frames: %d)\n",
				name, durationMs(st.Mean), durationMs(st.Peak), st.Count)
		}
	}

	return b.String()
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func msDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
