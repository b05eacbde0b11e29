package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/swdee/go-rtvideo/bufpool"
	"github.com/swdee/go-rtvideo/monitor"
)

// StageStats are the lifetime counters of one stage
type StageStats struct {
	Processed uint64
	Dropped   uint64
	Errors    uint64
}

// Stats is a snapshot of the pipeline state
type Stats struct {
	// RunID is the current or most recent run
	RunID   string
	Running bool
	// Frames is the number of frames read by the current or most recent run
	Frames uint64
	// InFlight is the number of frames inside the stages
	InFlight     int64
	ActiveTracks int
	// Stages are keyed by stage name
	Stages      map[string]StageStats
	Pool        bufpool.Stats
	Performance monitor.Metrics
}

// Dropped returns the total frames dropped across all stages
func (s Stats) Dropped() uint64 {

	var n uint64

	for _, st := range s.Stages {
		n += st.Dropped
	}

	return n
}

// Stats returns the current pipeline statistics
func (p *Pipeline) Stats() Stats {

	s := Stats{
		ActiveTracks: int(p.activeTracks.Load()),
		Stages:       make(map[string]StageStats, numStages),
		Pool:         p.pool.Stats(),
		Performance:  p.mon.Snapshot(),
	}

	if r := p.lastRun.Load(); r != nil {
		s.RunID = r.id
		s.Frames = r.frames.Load()
		s.InFlight = r.inflight.Load()
		s.Running = r.ctx.Err() == nil
	}

	for i := range p.counters {
		c := &p.counters[i]
		s.Stages[stage(i).String()] = StageStats{
			Processed: c.processed.Load(),
			Dropped:   c.dropped.Load(),
			Errors:    c.errors.Load(),
		}
	}

	return s
}

// Collector returns a Prometheus collector of the stage counters, buffer
// pool and track gauges
func (p *Pipeline) Collector(namespace string) prometheus.Collector {
	return &collector{
		p: p,
		frames: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pipeline", "frames_total"),
			"Frames passed on by a pipeline stage", []string{"stage"}, nil),
		dropped: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pipeline", "dropped_total"),
			"Frames dropped by a pipeline stage", []string{"stage"}, nil),
		errors: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pipeline", "errors_total"),
			"Per frame failures in a pipeline stage", []string{"stage"}, nil),
		tracks: prometheus.NewDesc(prometheus.BuildFQName(namespace, "tracker", "active_tracks"),
			"Number of live tracks", nil, nil),
		poolBytes: prometheus.NewDesc(prometheus.BuildFQName(namespace, "bufpool", "bytes"),
			"Bytes allocated by the buffer pool", nil, nil),
		poolInUse: prometheus.NewDesc(prometheus.BuildFQName(namespace, "bufpool", "in_use_bytes"),
			"Bytes of buffer pool slots handed out", nil, nil),
		poolExhausted: prometheus.NewDesc(prometheus.BuildFQName(namespace, "bufpool", "exhausted_total"),
			"Buffer requests refused because the pool was at its ceiling", nil, nil),
	}
}

type collector struct {
	p *Pipeline

	frames        *prometheus.Desc
	dropped       *prometheus.Desc
	errors        *prometheus.Desc
	tracks        *prometheus.Desc
	poolBytes     *prometheus.Desc
	poolInUse     *prometheus.Desc
	poolExhausted *prometheus.Desc
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.frames
	ch <- c.dropped
	ch <- c.errors
	ch <- c.tracks
	ch <- c.poolBytes
	ch <- c.poolInUse
	ch <- c.poolExhausted
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {

	for i := range c.p.counters {
		cnt := &c.p.counters[i]
		name := stage(i).String()

		ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue,
			float64(cnt.processed.Load()), name)
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue,
			float64(cnt.dropped.Load()), name)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue,
			float64(cnt.errors.Load()), name)
	}

	ps := c.p.pool.Stats()

	ch <- prometheus.MustNewConstMetric(c.tracks, prometheus.GaugeValue,
		float64(c.p.activeTracks.Load()))
	ch <- prometheus.MustNewConstMetric(c.poolBytes, prometheus.GaugeValue, float64(ps.TotalBytes))
	ch <- prometheus.MustNewConstMetric(c.poolInUse, prometheus.GaugeValue, float64(ps.InUseBytes))
	ch <- prometheus.MustNewConstMetric(c.poolExhausted, prometheus.CounterValue, float64(ps.Exhausted))
}
