package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache tiers used as metric labels
const (
	TierPermissionSet = "permission_set"
	TierDecision      = "decision"
)

// Cache results used as metric labels
const (
	CacheHit      = "hit"
	CacheMiss     = "miss"
	CacheError    = "error"
	CacheSetError = "set_error"
	CacheCorrupt  = "corrupt"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	PermissionCacheTotal   *prometheus.CounterVec
	ResolveDuration        prometheus.Histogram
	AuthzDecisionsTotal    *prometheus.CounterVec
	InvalidationsTotal     *prometheus.CounterVec
	TokenRevocationsTotal  *prometheus.CounterVec
	SnapshotFailuresTotal  *prometheus.CounterVec
	LoginAttemptsTotal     *prometheus.CounterVec
	AuthRejectionsTotal    *prometheus.CounterVec
	RevocationFallbackSize prometheus.Gauge
}

// NewMetrics creates and registers all metrics on registry
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caregate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "caregate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		PermissionCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caregate_permission_cache_total",
				Help: "Permission cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		ResolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "caregate_permission_resolve_duration_seconds",
				Help:    "Time spent resolving permissions from the credential store",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caregate_authz_decisions_total",
				Help: "Permission guard decisions",
			},
			[]string{"result"},
		),
		InvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caregate_cache_invalidations_total",
				Help: "Cache invalidations by trigger",
			},
			[]string{"trigger"},
		),
		TokenRevocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caregate_token_revocations_total",
				Help: "Token revocations by the store that recorded them",
			},
			[]string{"store"},
		),
		SnapshotFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caregate_snapshot_source_failures_total",
				Help: "Claims snapshot sources that failed during token issuance",
			},
			[]string{"source"},
		),
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caregate_login_attempts_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		AuthRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caregate_auth_rejections_total",
				Help: "Requests rejected by the authentication middleware",
			},
			[]string{"reason"},
		),
		RevocationFallbackSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "caregate_revocation_fallback_entries",
				Help: "Entries held in the in-process revocation fallback",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionCacheTotal,
		m.ResolveDuration,
		m.AuthzDecisionsTotal,
		m.InvalidationsTotal,
		m.TokenRevocationsTotal,
		m.SnapshotFailuresTotal,
		m.LoginAttemptsTotal,
		m.AuthRejectionsTotal,
		m.RevocationFallbackSize,
	)

	return m
}

// NewTestMetrics registers metrics on a fresh registry
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// CacheResult records a cache lookup outcome. Safe on a nil receiver.
func (m *Metrics) CacheResult(tier, result string) {
	if m == nil {
		return
	}
	m.PermissionCacheTotal.WithLabelValues(tier, result).Inc()
}

// ObserveResolve records a store resolution duration. Safe on a nil receiver.
func (m *Metrics) ObserveResolve(d time.Duration) {
	if m == nil {
		return
	}
	m.ResolveDuration.Observe(d.Seconds())
}

// Decision records a guard decision. Safe on a nil receiver.
func (m *Metrics) Decision(result string) {
	if m == nil {
		return
	}
	m.AuthzDecisionsTotal.WithLabelValues(result).Inc()
}

// Invalidation records an invalidation. Safe on a nil receiver.
func (m *Metrics) Invalidation(trigger string) {
	if m == nil {
		return
	}
	m.InvalidationsTotal.WithLabelValues(trigger).Inc()
}

// Revocation records where a revocation was stored. Safe on a nil receiver.
func (m *Metrics) Revocation(store string) {
	if m == nil {
		return
	}
	m.TokenRevocationsTotal.WithLabelValues(store).Inc()
}

// SnapshotFailure records a failed claims source. Safe on a nil receiver.
func (m *Metrics) SnapshotFailure(source string) {
	if m == nil {
		return
	}
	m.SnapshotFailuresTotal.WithLabelValues(source).Inc()
}

// LoginAttempt records a login outcome. Safe on a nil receiver.
func (m *Metrics) LoginAttempt(result string) {
	if m == nil {
		return
	}
	m.LoginAttemptsTotal.WithLabelValues(result).Inc()
}

// AuthRejection records a middleware rejection. Safe on a nil receiver.
func (m *Metrics) AuthRejection(reason string) {
	if m == nil {
		return
	}
	m.AuthRejectionsTotal.WithLabelValues(reason).Inc()
}

// SetFallbackSize records the fallback revocation map size. Safe on a nil receiver.
func (m *Metrics) SetFallbackSize(n int) {
	if m == nil {
		return
	}
	m.RevocationFallbackSize.Set(float64(n))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments requests. Routes are labelled with the
// mux path template so ids in the path do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
