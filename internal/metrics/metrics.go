// Package metrics provides Prometheus instrumentation for the auction
// engine.
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
	// BidsTotal counts bid placements partitioned by outcome
	// ("accepted", "rejected").
	BidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artify_bids_total",
		Help: "Total number of bid placements",
	}, []string{"outcome"})

	// BidLatency tracks bid placement latency.
	BidLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "artify_bid_latency_seconds",
		Help:    "Bid placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// AuctionsClosedTotal counts auction closes partitioned by result
	// ("sold", "no_bids").
	AuctionsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artify_auctions_closed_total",
		Help: "Total number of auctions closed",
	}, []string{"result"})

	// SalesSettledTotal counts settled sales by selling type.
	SalesSettledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artify_sales_settled_total",
		Help: "Total number of sales settled",
	}, []string{"selling_type"})

	// IncomeReleasedTotal counts sales whose pending income was
	// released to the seller.
	IncomeReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artify_income_released_total",
		Help: "Sales whose pending income has been released",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "artify_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artify_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "artify_http_request_duration_seconds",
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
