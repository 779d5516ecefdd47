package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all detection-dispatch metrics
type Metrics struct {
	// Dispatch counters
	DetectionsRequested atomic.Uint64
	DetectionsCompleted atomic.Uint64
	DetectionTimeouts   atomic.Uint64
	JobsDropped         atomic.Uint64 // Jobs whose input frame was absent

	// Worker lifecycle
	WorkerRestarts atomic.Uint64

	// Server counters
	RequestsServed    atomic.Uint64
	ActiveConnections atomic.Uint64
	ServeErrors       atomic.Uint64

	// Latency tracking
	InferenceLatencyMs atomic.Uint64 // Last observed inference latency in ms

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

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_requests_total",
			Help: "Total detection requests submitted by clients",
		},
		func() float64 { return float64(m.DetectionsRequested.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_completed_total",
			Help: "Total detection results delivered to clients",
		},
		func() float64 { return float64(m.DetectionsCompleted.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_timeouts_total",
			Help: "Total detection requests that timed out waiting for a worker",
		},
		func() float64 { return float64(m.DetectionTimeouts.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_jobs_dropped_total",
			Help: "Total jobs dropped because the input frame was absent",
		},
		func() float64 { return float64(m.JobsDropped.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_worker_restarts_total",
			Help: "Total worker process restarts",
		},
		func() float64 { return float64(m.WorkerRestarts.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_server_requests_total",
			Help: "Total requests served by the detection server",
		},
		func() float64 { return float64(m.RequestsServed.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_server_active_connections",
			Help: "Currently open detection server connections",
		},
		func() float64 { return float64(m.ActiveConnections.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_server_errors_total",
			Help: "Total connection handlers that ended with an error",
		},
		func() float64 { return float64(m.ServeErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_inference_latency_ms",
			Help: "Last observed inference latency in milliseconds",
		},
		func() float64 { return float64(m.InferenceLatencyMs.Load()) },
	))
}

// UpdateInferenceLatency records the latency of one inference
func (m *Metrics) UpdateInferenceLatency(duration time.Duration) {
	m.InferenceLatencyMs.Store(uint64(duration.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
