package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Capture counters
	FramesRead   atomic.Uint64
	ReadErrors   atomic.Uint64
	CyclesRun    atomic.Uint64
	MotionFrames atomic.Uint64 // Cycles with a qualifying centroid

	// Sequencer counters
	EntriesArmed       atomic.Uint64
	EntriesExpired     atomic.Uint64
	SequencesConfirmed atomic.Uint64
	AlarmsTriggered    atomic.Uint64

	// Status server counters
	StatusRequests atomic.Uint64
	StatusRejected atomic.Uint64
	StatusErrors   atomic.Uint64
	StatusBusy     atomic.Uint64
	ActiveConns    atomic.Int64

	// Latency tracking
	FrameLatencyMs   atomic.Uint64 // Capture to end of cycle
	ProcessLatencyMs atomic.Uint64 // Vision + sequencer time

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.counter("sentry_frames_read_total", "Total frames read from the capture source", &m.FramesRead)
	m.counter("sentry_read_errors_total", "Total capture read errors", &m.ReadErrors)
	m.counter("sentry_cycles_total", "Total sensing cycles completed", &m.CyclesRun)
	m.counter("sentry_motion_frames_total", "Cycles with a qualifying motion centroid", &m.MotionFrames)

	m.counter("sentry_entries_armed_total", "Downward crossings into the entry zone", &m.EntriesArmed)
	m.counter("sentry_entries_expired_total", "Pending entries that timed out", &m.EntriesExpired)
	m.counter("sentry_sequences_confirmed_total", "Confirmed entry to confirm sequences", &m.SequencesConfirmed)
	m.counter("sentry_alarms_triggered_total", "Alarm blink patterns started", &m.AlarmsTriggered)

	m.counter("sentry_status_requests_total", "Status requests answered", &m.StatusRequests)
	m.counter("sentry_status_rejected_total", "Status connections closed for an unknown request", &m.StatusRejected)
	m.counter("sentry_status_errors_total", "Status connections dropped on I/O errors", &m.StatusErrors)
	m.counter("sentry_status_busy_total", "Status connections refused because the pool was full", &m.StatusBusy)
	m.gauge("sentry_status_active_connections", "Status connections being served",
		func() float64 { return float64(m.ActiveConns.Load()) })

	m.gauge("sentry_frame_latency_ms", "Latency from capture to published frame in milliseconds",
		func() float64 { return float64(m.FrameLatencyMs.Load()) })
	m.gauge("sentry_process_latency_ms", "Vision and sequencer time per cycle in milliseconds",
		func() float64 { return float64(m.ProcessLatencyMs.Load()) })
}

// UpdateFrameLatency records the latency since capture
func (m *Metrics) UpdateFrameLatency(captureTime time.Time) {
	if captureTime.IsZero() {
		return
	}
	latency := time.Since(captureTime).Milliseconds()
	if latency < 0 {
		latency = 0
	}
	m.FrameLatencyMs.Store(uint64(latency))
}

// UpdateProcessLatency records the processing time of one cycle
func (m *Metrics) UpdateProcessLatency(duration time.Duration) {
	m.ProcessLatencyMs.Store(uint64(duration.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics until ctx is cancelled
func (m *Metrics) StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
