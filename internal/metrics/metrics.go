// Package metrics provides Prometheus instrumentation for the position engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsTotal counts processed on-chain events, partitioned by type.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poseng_events_total",
		Help: "Total number of on-chain events processed",
	}, []string{"event"})

	// EventsSkipped counts events skipped due to lookup failures or
	// unmet preconditions (no position mutation happened).
	EventsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poseng_events_skipped_total",
		Help: "Events skipped without position mutation",
	}, []string{"event"})

	// EventLatency tracks reducer execution latency per event type.
	EventLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "poseng_event_latency_seconds",
		Help:    "Reducer execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"event"})

	// PositionsUpserted counts position records written.
	PositionsUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poseng_positions_upserted_total",
		Help: "Total position records upserted",
	})

	// InvariantViolations counts reconciliations that produced a negative
	// net quantity. A non-zero value is a data-integrity signal for
	// offline investigation.
	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poseng_invariant_violations_total",
		Help: "Positions reconciled to a negative net quantity",
	})

	// LookupFailures counts missing-record diagnostics by kind.
	LookupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poseng_lookup_failures_total",
		Help: "Referenced records not found or not usable",
	}, []string{"kind"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "poseng_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poseng_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "poseng_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
