// Package metrics provides Prometheus instrumentation for the storefront.
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
	// MarketplaceRequests counts outbound marketplace API calls by method.
	MarketplaceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_marketplace_requests_total",
		Help: "Outbound marketplace API requests",
	}, []string{"method"})

	// MarketplaceRetries counts retried marketplace calls.
	MarketplaceRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_marketplace_retries_total",
		Help: "Retried marketplace API requests",
	})

	// MarketplaceRateLimited counts 429 responses from the marketplace.
	MarketplaceRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_marketplace_rate_limited_total",
		Help: "Marketplace responses with HTTP 429",
	})

	// CacheOps counts cache operations by op and result (hit/miss/error/skip).
	CacheOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_cache_ops_total",
		Help: "Cache operations by result",
	}, []string{"op", "result"})

	// ReconcileOutcomes counts inventory reconciliations by strategy and outcome.
	ReconcileOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_reconcile_outcomes_total",
		Help: "Inventory reconciliation outcomes by strategy",
	}, []string{"strategy", "outcome"})

	// WebhookEvents counts payment webhook deliveries by event type.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_webhook_events_total",
		Help: "Payment webhook events received",
	}, []string{"type"})

	// CartMerges counts guest-to-user cart merges by result.
	CartMerges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_cart_merges_total",
		Help: "Guest cart merges by result",
	}, []string{"result"})

	// StockClients tracks connected stock-update WebSocket clients.
	StockClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_stock_clients",
		Help: "Connected stock-update WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
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
