// Package metrics provides Prometheus instrumentation for the trading engine.
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
	// TradesTotal counts committed trades, partitioned by side and action
	// (open, close, redeem).
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proven_trades_total",
		Help: "Total number of trades committed",
	}, []string{"side", "action"})

	// TradeLatency tracks end-to-end trade execution latency including
	// transaction retries.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proven_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// TxRetries counts transaction attempts retried after a commit
	// conflict.
	TxRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proven_tx_retries_total",
		Help: "Transaction attempts retried after an optimistic-concurrency conflict",
	})

	// TxConflicts counts operations that exhausted their retry budget and
	// surfaced a conflict to the caller.
	TxConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proven_tx_conflicts_total",
		Help: "Operations that failed after exhausting conflict retries",
	})

	// ResolutionsTotal counts market resolutions by outcome.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proven_resolutions_total",
		Help: "Total number of markets resolved",
	}, []string{"outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proven_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proven_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proven_http_request_duration_seconds",
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
