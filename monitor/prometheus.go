package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector exports a Monitor's snapshot as Prometheus metrics
type Collector struct {
	mon *Monitor

	frames       *prometheus.Desc
	fps          *prometheus.Desc
	latency      *prometheus.Desc
	latencyP95   *prometheus.Desc
	latencyPeak  *prometheus.Desc
	memory       *prometheus.Desc
	memoryPeak   *prometheus.Desc
	cpu          *prometheus.Desc
	stageLatency *prometheus.Desc
	stageFrames  *prometheus.Desc
}

// NewCollector returns a Collector with metric names prefixed by namespace
func NewCollector(m *Monitor, namespace string) *Collector {

	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}

	return &Collector{
		mon:          m,
		frames:       desc("frames_total", "Total number of frames processed"),
		fps:          desc("fps", "Frame rate over the recent frame window"),
		latency:      desc("latency_seconds", "Average frame latency over the recent frame window"),
		latencyP95:   desc("latency_p95_seconds", "95th percentile frame latency over the recent frame window"),
		latencyPeak:  desc("latency_peak_seconds", "Peak frame latency"),
		memory:       desc("memory_usage_megabytes", "Memory usage in Megabytes"),
		memoryPeak:   desc("memory_peak_megabytes", "Peak memory usage in Megabytes"),
		cpu:          desc("cpu_usage_percent", "CPU usage in percent"),
		stageLatency: desc("stage_latency_seconds", "Average processing time of a pipeline stage", "stage"),
		stageFrames:  desc("stage_frames_total", "Frames processed by a pipeline stage", "stage"),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.frames
	ch <- c.fps
	ch <- c.latency
	ch <- c.latencyP95
	ch <- c.latencyPeak
	ch <- c.memory
	ch <- c.memoryPeak
	ch <- c.cpu
	ch <- c.stageLatency
	ch <- c.stageFrames
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {

	s := c.mon.Snapshot()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(s.FrameCount))
	gauge(c.fps, s.CurrentFPS)
	gauge(c.latency, s.AverageLatency.Seconds())
	gauge(c.latencyP95, s.P95Latency.Seconds())
	gauge(c.latencyPeak, s.PeakLatency.Seconds())
	gauge(c.memory, s.MemoryMB)
	gauge(c.memoryPeak, s.PeakMemoryMB)
	gauge(c.cpu, s.CPUPercent)

	for name, st := range s.Stages {
		gauge(c.stageLatency, st.Mean.Seconds(), name)
		ch <- prometheus.MustNewConstMetric(c.stageFrames, prometheus.CounterValue, float64(st.Count), name)
	}
}

// NewRegistry returns a registry holding the monitor's collector and any
// extra collectors
func NewRegistry(m *Monitor, namespace string, extra ...prometheus.Collector) (*prometheus.Registry, error) {

	registry := prometheus.NewRegistry()

	if err := registry.Register(NewCollector(m, namespace)); err != nil {
		return nil, err
	}

	for _, c := range extra {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// Serve exposes the registry on addr at /metrics until ctx is cancelled
func Serve(ctx context.Context, addr string, registry *prometheus.Registry, log *zap.Logger) error {

	if log == nil {
		log = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err

	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown error", zap.Error(err))
		return err
	}

	return nil
}
