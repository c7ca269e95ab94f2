// Package metrics provides Prometheus metrics for the authentication service
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authguard",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "authguard",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "authguard",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	// HTTPResponseSize measures HTTP response size in bytes
	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "authguard",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "path"},
	)
)

var (
	// DBQueryDuration measures database query duration
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "authguard",
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)
)

var (
	// LoginAttemptsTotal counts login attempts by outcome
	// (success, failure, locked, error)
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authguard",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts by outcome",
		},
		[]string{"outcome"},
	)

	// RegistrationsTotal counts registrations by result
	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authguard",
			Subsystem: "auth",
			Name:      "registrations_total",
			Help:      "Total number of registration requests by result",
		},
		[]string{"result"},
	)

	// SessionsCreated counts sessions issued
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "authguard",
			Subsystem: "auth",
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created",
		},
	)
)

var (
	// HashDuration measures Argon2id/bcrypt work by operation (hash, verify)
	HashDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "authguard",
			Subsystem: "hash",
			Name:      "duration_seconds",
			Help:      "Credential hashing duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .2, .3, .5, 1, 2},
		},
		[]string{"operation"},
	)

	// HashInFlight tracks hash pool slots in use
	HashInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "authguard",
			Subsystem: "hash",
			Name:      "in_flight",
			Help:      "Number of hash operations currently holding a pool slot",
		},
	)

	// HashRejected counts callers turned away by the hash pool
	HashRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "authguard",
			Subsystem: "hash",
			Name:      "rejected_total",
			Help:      "Total number of hash operations rejected because the pool was saturated",
		},
	)
)

var (
	// SweepDeleted counts rows removed by the retention job by kind
	// (attempts, sessions)
	SweepDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authguard",
			Subsystem: "sweep",
			Name:      "deleted_total",
			Help:      "Total number of rows deleted by the retention sweep by kind",
		},
		[]string{"kind"},
	)

	// SessionCacheRequests counts session cache lookups by result (hit, miss, error)
	SessionCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authguard",
			Subsystem: "session_cache",
			Name:      "requests_total",
			Help:      "Total number of session cache lookups by result",
		},
		[]string{"result"},
	)

	// SessionRefreshes counts deferred sliding-expiration writes by result
	SessionRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authguard",
			Subsystem: "session",
			Name:      "refreshes_total",
			Help:      "Total number of deferred session refreshes by result",
		},
		[]string{"result"},
	)
)

// ObserveHash records the duration of a hash operation
func ObserveHash(operation string, d time.Duration) {
	HashDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Middleware records request count, latency and response size labelled by
// chi route pattern, so path parameters do not explode label cardinality
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := routePattern(r)

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(ww.BytesWritten()))
	})
}

// routePattern falls back to a fixed label for unmatched routes
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
