package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics.
var (
	requestsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clearance_requests_created_total",
		Help: "Clearance requests created.",
	})

	stepTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clearance_step_transitions_total",
			Help: "Approval step transitions by resulting status.",
		},
		[]string{"status"},
	)

	workflowUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clearance_workflow_updates_total",
		Help: "Workflow template replacements.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		requestsCreatedTotal, stepTransitionsTotal, workflowUpdatesTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountRequestCreated increments the request creation counter.
func CountRequestCreated() { requestsCreatedTotal.Inc() }

// CountStepTransition increments the step transition counter for a status.
func CountStepTransition(status string) { stepTransitionsTotal.WithLabelValues(status).Inc() }

// CountWorkflowUpdate increments the workflow replacement counter.
func CountWorkflowUpdate() { workflowUpdatesTotal.Inc() }

// Instrument measures RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric label cardinality
// stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	canonical := func(segs ...string) string { return "/" + strings.Join(segs, "/") }
	if len(parts) >= 3 && parts[0] == "v1" {
		switch parts[1] {
		case "organizations", "requests", "users", "steps":
			if len(parts) == 3 {
				return canonical(parts[0], parts[1], ":id")
			}
			if len(parts) == 4 {
				switch parts[3] {
				case "workflow", "users", "comments", "bulk-status", "status", "permissions":
					return canonical(parts[0], parts[1], ":id", parts[3])
				}
			}
		}
	}
	return path
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
