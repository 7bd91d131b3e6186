package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the ingestion server. Each
// server owns its registry so tests can run servers side by side without
// duplicate-registration panics.
type Metrics struct {
	// Ingestion metrics
	batchesTotal   *prometheus.CounterVec
	eventsIngested prometheus.Counter
	eventsDropped  *prometheus.CounterVec
	sessionsActive prometheus.Gauge

	// Insight metrics
	insightRequests  *prometheus.CounterVec
	insightLatency   prometheus.Histogram
	frictionPatterns *prometheus.CounterVec

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance with a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		batchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intent_batches_total",
				Help: "Total number of ingested batches by status",
			},
			[]string{"status"},
		),

		eventsIngested: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "intent_events_ingested_total",
				Help: "Total number of events appended to session timelines",
			},
		),

		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intent_events_dropped_total",
				Help: "Total number of events dropped by reason",
			},
			[]string{"reason"},
		),

		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "intent_sessions_active",
				Help: "Number of sessions currently held by the reconstructor",
			},
		),

		insightRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intent_insight_requests_total",
				Help: "Total number of insight reads by status",
			},
			[]string{"status"},
		),

		insightLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "intent_insight_generation_seconds",
				Help:    "Insight generation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		frictionPatterns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intent_friction_patterns_total",
				Help: "Total number of friction patterns detected by type",
			},
			[]string{"pattern_type"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intent_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intent_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.batchesTotal,
		m.eventsIngested,
		m.eventsDropped,
		m.sessionsActive,
		m.insightRequests,
		m.insightLatency,
		m.frictionPatterns,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// RecordBatch records an ingested batch and its contribution.
func (m *Metrics) RecordBatch(status string, processed int) {
	m.batchesTotal.WithLabelValues(status).Inc()
	if processed > 0 {
		m.eventsIngested.Add(float64(processed))
	}
}

// RecordDroppedEvents records events dropped during ingestion.
func (m *Metrics) RecordDroppedEvents(reason string, count int) {
	if count > 0 {
		m.eventsDropped.WithLabelValues(reason).Add(float64(count))
	}
}

// SetActiveSessions updates the active session gauge.
func (m *Metrics) SetActiveSessions(count int) {
	m.sessionsActive.Set(float64(count))
}

// RecordInsightRequest records an insight read and its generation latency.
func (m *Metrics) RecordInsightRequest(status string, duration time.Duration) {
	m.insightRequests.WithLabelValues(status).Inc()
	m.insightLatency.Observe(duration.Seconds())
}

// RecordFrictionPattern records one detected pattern.
func (m *Metrics) RecordFrictionPattern(patternType string) {
	m.frictionPatterns.WithLabelValues(patternType).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latency per endpoint.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		endpoint := endpointName(r.URL.Path)
		m.httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(wrapped.statusCode)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code. It
// forwards Hijack and Flush so the WebSocket upgrade on /live still works
// through the middleware chain.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if flusher, ok := sr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not support http.Hijacker")
}

// endpointName normalizes paths so per-session ids do not explode label
// cardinality.
func endpointName(path string) string {
	switch {
	case path == "/health":
		return "health"
	case path == "/metrics":
		return "metrics"
	case path == "/live":
		return "live"
	case path == "/api/v1/events/batch":
		return "events_batch"
	case path == "/api/v1/events/stats":
		return "events_stats"
	case path == "/api/v1/insights":
		return "insights_summary"
	case len(path) > len("/api/v1/insights/") && path[:len("/api/v1/insights/")] == "/api/v1/insights/":
		return "insights_session"
	case path == "/":
		return "root"
	default:
		return "unknown"
	}
}
