// Package telemetry unifies OpenTelemetry tracing and Prometheus metrics.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	edgeDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_decisions_total",
			Help: "Total number of edge routing decisions, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	cronRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cron_runs_total",
			Help: "Total number of cron route invocations, labeled by route, action and result.",
		},
		[]string{"route", "action", "result"},
	)

	payoutDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_dispatch_total",
			Help: "Payout dispatch attempts per invoice, labeled by provider and result.",
		},
		[]string{"provider", "result"},
	)

	linkCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_cache_lookups_total",
			Help: "Link cache lookups, labeled by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	linkCacheExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "link_cache_expired_total",
			Help: "Total number of link cache entries expired by invalidation jobs.",
		},
	)

	requestLogDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "request_log_dropped_total",
			Help: "Request log entries dropped because the hub buffer was full.",
		},
	)

	rateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests refused because the client exceeded its rate limit.",
		},
	)

	backgroundTasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "background_tasks_in_flight",
			Help: "Number of detached tasks that have not finished yet.",
		},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			routePattern = rctx.RoutePattern()
		}
		if routePattern == "" {
			routePattern = "unknown"
		}

		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveEdgeDecision counts one edge routing outcome.
func ObserveEdgeDecision(outcome string) {
	edgeDecisionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCronRun counts one cron invocation.
func ObserveCronRun(route, action, result string) {
	cronRunsTotal.WithLabelValues(route, action, result).Inc()
}

// ObservePayoutDispatch counts one payout dispatcher outcome.
func ObservePayoutDispatch(provider, result string) {
	payoutDispatchTotal.WithLabelValues(provider, result).Inc()
}

// ObserveLinkCacheLookup counts a cache hit, miss or error.
func ObserveLinkCacheLookup(result string) {
	linkCacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveLinkCacheExpired adds n expired entries.
func ObserveLinkCacheExpired(n int) {
	linkCacheExpiredTotal.Add(float64(n))
}

// ObserveRequestLogDropped adds n dropped request log entries.
func ObserveRequestLogDropped(n int64) {
	requestLogDroppedTotal.Add(float64(n))
}

// ObserveRateLimited counts a request refused by the rate limiter.
func ObserveRateLimited() {
	rateLimitedTotal.Inc()
}

// IncBackgroundTasks increments the in-flight detached task gauge.
func IncBackgroundTasks() {
	backgroundTasksInFlight.Inc()
}

// DecBackgroundTasks decrements the in-flight detached task gauge.
func DecBackgroundTasks() {
	backgroundTasksInFlight.Dec()
}
