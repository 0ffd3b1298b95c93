// Package metrics exposes Prometheus collectors for the HTTP surface and
// the metering pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sadhana"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests, including streamed bodies.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		},
		[]string{"method", "path"},
	)

	quotaDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_decisions_total",
			Help:      "Admission decisions of the quota gate.",
		},
		[]string{"feature", "outcome"},
	)

	usageCommits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_commits_total",
			Help:      "Post-success usage counter writes.",
		},
		[]string{"feature", "result"},
	)

	streamFragments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_fragments_total",
			Help:      "Text fragments forwarded from the model to clients.",
		},
	)

	streamOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_outcomes_total",
			Help:      "How proxied model streams ended.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		quotaDecisions,
		usageCommits,
		streamFragments,
		streamOutcomes,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps a ServeMux with HTTP metrics collection. Paths are
// labelled with the matched route pattern to keep cardinality bounded.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := routeLabel(r.Pattern)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// Quota decision outcomes.
const (
	OutcomeAdmitted     = "admitted"
	OutcomeExceeded     = "exceeded"
	OutcomePlanRequired = "plan_required"
	OutcomeError        = "error"
)

func RecordQuotaDecision(feature, outcome string) {
	quotaDecisions.WithLabelValues(feature, outcome).Inc()
}

// RecordUsageCommit counts a post-success counter write.
func RecordUsageCommit(feature string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	usageCommits.WithLabelValues(feature, result).Inc()
}

func RecordStreamFragment() {
	streamFragments.Inc()
}

// Stream outcomes.
const (
	StreamCompleted = "completed"
	StreamFailed    = "failed"
	StreamCancelled = "cancelled"
	StreamRejected  = "rejected"
)

func RecordStreamOutcome(outcome string) {
	streamOutcomes.WithLabelValues(outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying Flusher.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func routeLabel(pattern string) string {
	if pattern == "" {
		return "unmatched"
	}
	// "POST /api/chat" -> "/api/chat"
	if _, path, ok := strings.Cut(pattern, " "); ok {
		return path
	}
	return pattern
}
