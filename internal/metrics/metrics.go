// Package metrics provides Prometheus instrumentation for the position
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/positionledger/posengine/internal/model"
)

var (
	// TradesIngestedTotal counts trades accepted into the trade
	// ledger, partitioned by outcome (inserted/duplicate/invalid).
	// Nothing in this module increments it.
	TradesIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posengine_trades_ingested_total",
		Help: "Total trades processed by the ingestion coordinator",
	}, []string{"outcome"})

	// CalcRequestsPublishedTotal counts calc requests published onto
	// the calc-request log, partitioned by changeReason. Nothing in
	// this module increments it.
	CalcRequestsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posengine_calc_requests_published_total",
		Help: "Total calc requests published by the ingestion coordinator",
	}, []string{"change_reason"})

	// CalcRequestsHandledTotal counts calc requests processed by the
	// engine, partitioned by changeReason (the strategy selector's own
	// input) and outcome.
	CalcRequestsHandledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posengine_calc_requests_handled_total",
		Help: "Total calc requests processed by the calculation engine",
	}, []string{"change_reason", "outcome"})

	// CalcRequestLatency tracks how long the engine takes to handle one
	// calc request, partitioned by changeReason.
	CalcRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "posengine_calc_request_duration_seconds",
		Help:    "Calculation engine handling latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"change_reason"})

	// WACFallbackTotal counts every time cross-day incremental falls
	// back to a full price fold because no prior-day price row exists
	// for the requested method, partitioned by dateBasis. Backs the
	// engine.FallbackObserver interface.
	WACFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posengine_wac_fallback_total",
		Help: "Times cross-day incremental fell back to a full WAC fold due to a missing prior price",
	}, []string{"date_basis"})

	// SnapshotVersionGauge tracks the highest calculationVersion
	// observed per (positionKey, dateBasis), a cheap staleness/churn
	// signal for dashboards. Nothing in this module sets it.
	SnapshotVersionGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "posengine_snapshot_calculation_version",
		Help: "Current calculationVersion of the most recently committed snapshot",
	}, []string{"position_key", "date_basis"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posengine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "posengine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// WebSocketClients tracks connected live-snapshot-feed clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "posengine_websocket_clients",
		Help: "Number of connected live snapshot feed clients",
	})
)

// WACFallbackObserver adapts the WACFallbackTotal counter to
// engine.FallbackObserver.
type WACFallbackObserver struct{}

// ObserveWACFallback implements engine.FallbackObserver.
func (WACFallbackObserver) ObserveWACFallback(_ string, basis model.DateBasis, _ time.Time) {
	WACFallbackTotal.WithLabelValues(string(basis)).Inc()
}

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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern resolves the chi route pattern matched for r (e.g.
// "/api/v1/positions/{positionKey}/snapshot") rather than the raw URL
// path, so distinct positionKeys don't each mint their own label
// series. Falls back to the raw path when chi hasn't matched a route
// (404s).
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
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
