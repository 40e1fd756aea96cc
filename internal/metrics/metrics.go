package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for upstream calls
const (
	OutcomeSuccess         = "success"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeUpstreamError   = "upstream_error"
	OutcomeInvalidPath     = "invalid_path"
	OutcomeStoreError      = "store_error"
)

// Metrics holds all Prometheus metrics for the proxy
type Metrics struct {
	// Upstream metrics
	upstreamRequestsTotal *prometheus.CounterVec
	upstreamLatency       *prometheus.HistogramVec

	// Token store metrics
	tokenReadsTotal     *prometheus.CounterVec
	tokenRefreshesTotal *prometheus.CounterVec
	tokensPurgedTotal   prometheus.Counter

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		upstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arceon_upstream_requests_total",
				Help: "Total number of proxy operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),

		upstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arceon_upstream_request_duration_seconds",
				Help:    "GitHub API call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		tokenReadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arceon_token_reads_total",
				Help: "Total number of access tokens handed to callers by outcome",
			},
			[]string{"outcome"},
		),

		tokenRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arceon_token_refreshes_total",
				Help: "Total number of access token refresh attempts by status",
			},
			[]string{"status"},
		),

		tokensPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arceon_tokens_purged_total",
				Help: "Total number of stale authorized clients removed",
			},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arceon_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arceon_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.upstreamRequestsTotal,
		m.upstreamLatency,
		m.tokenReadsTotal,
		m.tokenRefreshesTotal,
		m.tokensPurgedTotal,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// RecordUpstream records one proxy operation. Latency is only observed when
// the upstream was actually called.
func (m *Metrics) RecordUpstream(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.upstreamRequestsTotal.WithLabelValues(operation, outcome).Inc()
	if duration > 0 {
		m.upstreamLatency.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// RecordTokenRead records a token lookup that never reaches the upstream
func (m *Metrics) RecordTokenRead(outcome string) {
	if m == nil {
		return
	}
	m.tokenReadsTotal.WithLabelValues(outcome).Inc()
}

// RecordTokenRefresh records a refresh attempt against the token endpoint
func (m *Metrics) RecordTokenRefresh(success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.tokenRefreshesTotal.WithLabelValues(status).Inc()
}

// RecordPurge adds the number of removed authorized clients
func (m *Metrics) RecordPurge(removed int64) {
	if m == nil || removed <= 0 {
		return
	}
	m.tokensPurgedTotal.Add(float64(removed))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer measures one upstream operation
type Timer struct {
	start     time.Time
	metrics   *Metrics
	operation string
}

// NewTimer starts timing an upstream operation
func (m *Metrics) NewTimer(operation string) *Timer {
	return &Timer{
		start:     time.Now(),
		metrics:   m,
		operation: operation,
	}
}

// Done records the operation with the elapsed time
func (t *Timer) Done(outcome string) {
	t.metrics.RecordUpstream(t.operation, outcome, time.Since(t.start))
}
