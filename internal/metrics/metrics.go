// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvas_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canvas_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActiveRuns tracks generation runs in flight.
	ActiveRuns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "canvas_active_runs",
			Help: "Number of generation runs in flight",
		},
		[]string{"flow"},
	)

	// RunDuration tracks how long runs take by terminal status.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canvas_run_duration_seconds",
			Help:    "Generation run duration in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"flow", "status"},
	)

	// ToolCalls counts tool executions.
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvas_tool_calls_total",
			Help: "Total number of tool executions",
		},
		[]string{"tool", "status"},
	)

	// Handoffs counts agent hand-offs.
	Handoffs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvas_handoffs_total",
			Help: "Total number of agent hand-offs",
		},
		[]string{"from", "to"},
	)

	// Confirmations counts confirmation gate decisions.
	Confirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvas_tool_confirmations_total",
			Help: "Total number of sensitive tool decisions",
		},
		[]string{"decision"},
	)

	// PersistedMessages counts messages appended to session logs.
	PersistedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canvas_persisted_messages_total",
			Help: "Total number of chat messages persisted",
		},
	)

	// DroppedFragments counts tool argument fragments without an announced call.
	DroppedFragments = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canvas_dropped_argument_fragments_total",
			Help: "Total number of orphan tool argument fragments dropped",
		},
	)
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request count and latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath strips ids from paths to keep label cardinality low.
func normalizePath(path string) string {
	switch {
	case path == "/health", path == "/metrics", path == "/api/chat", path == "/api/magic", path == "/api/tool_confirmation":
		return path
	case strings.HasPrefix(path, "/api/cancel/"):
		return "/api/cancel"
	case strings.HasPrefix(path, "/api/magic/cancel/"):
		return "/api/magic/cancel"
	case strings.HasPrefix(path, "/api/chat_session/"):
		return "/api/chat_session"
	case strings.HasPrefix(path, "/api/canvas/"):
		return "/api/canvas/sessions"
	case strings.HasPrefix(path, "/api/sessions/"):
		return "/api/sessions/events"
	default:
		return "other"
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRunStart increments the active run gauge.
func RecordRunStart(flow string) {
	ActiveRuns.WithLabelValues(flow).Inc()
}

// RecordRunEnd decrements the active run gauge and records the duration.
func RecordRunEnd(flow, status string, d time.Duration) {
	ActiveRuns.WithLabelValues(flow).Dec()
	RunDuration.WithLabelValues(flow, status).Observe(d.Seconds())
}

// RecordToolCall records a tool execution.
func RecordToolCall(tool string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ToolCalls.WithLabelValues(tool, status).Inc()
}

// RecordHandoff records a hand-off between agents.
func RecordHandoff(from, to string) {
	Handoffs.WithLabelValues(from, to).Inc()
}

// RecordConfirmation records a confirm or cancel decision.
func RecordConfirmation(decision string) {
	Confirmations.WithLabelValues(decision).Inc()
}

// RecordPersisted adds n persisted messages.
func RecordPersisted(n int) {
	PersistedMessages.Add(float64(n))
}

// RecordDroppedFragment records an orphan argument fragment.
func RecordDroppedFragment() {
	DroppedFragments.Inc()
}
