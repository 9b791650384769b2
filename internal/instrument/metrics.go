// Package instrument defines the gateway's Prometheus collectors.
package instrument

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "metricgw"

// Frame rejection reasons.
const (
	ReasonTruncated   = "truncated"
	ReasonMalformed   = "malformed"
	ReasonRateLimited = "rate_limited"
	ReasonNotReady    = "not_ready"
)

// Ingest sources.
const (
	SourceTCP  = "tcp"
	SourceHTTP = "http"
)

// PoolStatser exposes database/sql pool statistics.
type PoolStatser interface {
	Stats() sql.DBStats
}

// Metrics holds every collector, registered on its own registry so tests
// can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	FramesReceived  prometheus.Counter
	FramesRejected  *prometheus.CounterVec
	MetricsWritten  *prometheus.CounterVec
	WriteFailures   *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	PoolInitRetries prometheus.Counter
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tcp_frames_received_total",
			Help:      "TCP frames read from control processors",
		}),
		FramesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tcp_frames_rejected_total",
			Help:      "TCP frames dropped or flagged, by reason",
		}, []string{"reason"}),
		MetricsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_written_total",
			Help:      "Metric records persisted, by ingest source",
		}, []string{"source"}),
		WriteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_write_failures_total",
			Help:      "Metric writes that failed, by ingest source",
		}, []string{"source"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		PoolInitRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_pool_init_retries_total",
			Help:      "Failed connection attempts during pool initialization",
		}),
	}
}

// RegisterPool exports pool statistics as gauges read at scrape time.
func (m *Metrics) RegisterPool(pool PoolStatser) {
	f := promauto.With(m.registry)
	gauge := func(name, help string, value func(sql.DBStats) float64) {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return value(pool.Stats()) })
	}

	gauge("open_connections", "Established connections, in use and idle",
		func(s sql.DBStats) float64 { return float64(s.OpenConnections) })
	gauge("in_use_connections", "Connections currently in use",
		func(s sql.DBStats) float64 { return float64(s.InUse) })
	gauge("idle_connections", "Idle connections",
		func(s sql.DBStats) float64 { return float64(s.Idle) })
	gauge("max_open_connections", "Configured connection limit",
		func(s sql.DBStats) float64 { return float64(s.MaxOpenConnections) })
	gauge("wait_count", "Total acquires that waited for a connection",
		func(s sql.DBStats) float64 { return float64(s.WaitCount) })
	gauge("wait_seconds", "Total time spent waiting for a connection",
		func(s sql.DBStats) float64 { return s.WaitDuration.Seconds() })
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
