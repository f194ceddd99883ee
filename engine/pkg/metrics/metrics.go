// Package metrics holds the engine's Prometheus collectors and the HTTP
// middleware that feeds them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quizpot_engine_build_info",
			Help: "Build information of the Quizpot escrow engine",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizpot_engine_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quizpot_engine_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizpot_engine_operations_total",
			Help: "Total round operations by outcome",
		},
		[]string{"op", "status"},
	)

	SettledAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizpot_engine_settled_amount_total",
			Help: "Minor units moved at settlement, by destination",
		},
		[]string{"destination"},
	)

	ClaimedAmountTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quizpot_engine_claimed_amount_total",
			Help: "Minor units paid out to winners",
		},
	)

	VaultAuditDrift = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quizpot_engine_vault_audit_drift",
			Help: "Difference between custodial native balances and the on-chain balance, in minor units",
		},
	)
)

// Middleware records request counts and durations per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordOperation counts one round operation outcome.
func RecordOperation(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	OperationsTotal.WithLabelValues(op, status).Inc()
}
