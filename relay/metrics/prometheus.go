// Package metrics provides Prometheus metrics export for the relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exports relay metrics in Prometheus format.
type Exporter struct {
	registry *prometheus.Registry

	// Request metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeStreams   prometheus.Gauge

	// Identity metrics
	userMatches *prometheus.CounterVec

	// Upstream metrics
	upstreamErrors *prometheus.CounterVec
	sessionsOpen   prometheus.Gauge

	// Context retrieval metrics
	contextRetrievals *prometheus.CounterVec
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}
}

// NewExporter creates a new Prometheus metrics exporter.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memrelay_requests_total",
			Help: "Total requests handled, by endpoint and status code.",
		}, []string{"endpoint", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "memrelay_request_duration_seconds",
			Help:    "Request handling latency, by endpoint.",
			Buckets: cfg.LatencyBuckets,
		}, []string{"endpoint"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memrelay_active_streams",
			Help: "Streaming responses currently in flight.",
		}),
		userMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memrelay_user_matches_total",
			Help: "User id resolutions, by match kind.",
		}, []string{"matched"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memrelay_upstream_errors_total",
			Help: "Upstream call failures, by kind.",
		}, []string{"kind"}),
		sessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memrelay_upstream_sessions",
			Help: "Persistent upstream sessions currently open.",
		}),
		contextRetrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memrelay_context_retrievals_total",
			Help: "Context retrieval preflights, by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		e.requestsTotal,
		e.requestDuration,
		e.activeStreams,
		e.userMatches,
		e.upstreamErrors,
		e.sessionsOpen,
		e.contextRetrievals,
	)

	return e
}

// ObserveRequest records one handled request.
func (e *Exporter) ObserveRequest(endpoint, status string, duration time.Duration) {
	e.requestsTotal.WithLabelValues(endpoint, status).Inc()
	e.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordMatch records how a user id was resolved.
func (e *Exporter) RecordMatch(matched string) {
	e.userMatches.WithLabelValues(matched).Inc()
}

// RecordUpstreamError records a transport-level upstream failure.
func (e *Exporter) RecordUpstreamError(kind string) {
	e.upstreamErrors.WithLabelValues(kind).Inc()
}

// RecordContextOutcome records a context retrieval preflight outcome.
func (e *Exporter) RecordContextOutcome(outcome string) {
	e.contextRetrievals.WithLabelValues(outcome).Inc()
}

// StreamStarted marks a streaming response as in flight.
func (e *Exporter) StreamStarted() {
	e.activeStreams.Inc()
}

// StreamEnded marks a streaming response as finished.
func (e *Exporter) StreamEnded() {
	e.activeStreams.Dec()
}

// SetOpenSessions reports the current session-pool size.
func (e *Exporter) SetOpenSessions(n int) {
	e.sessionsOpen.Set(float64(n))
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
