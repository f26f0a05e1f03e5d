// Package metrics holds the Prometheus collectors for payments and HTTP traffic. They are
// registered once with the default registry and exported at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mpesa_checkout"

var (
	// PushTotal counts STK push attempts by outcome
	// (accepted, rejected, http_error, timeout, unreachable, malformed, invalid, config, store_error).
	PushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stk_push_total",
			Help:      "STK push attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// CallbacksTotal counts processed gateway callbacks by classified status.
	CallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Gateway callbacks processed, by classified status.",
		},
		[]string{"status"},
	)

	// ResolutionsTotal counts status resolutions by provenance and status.
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_resolutions_total",
			Help:      "Status resolutions by source and resulting status.",
		},
		[]string{"source", "status"},
	)

	// InventoryLinesTotal counts per-line stock decrements.
	InventoryLinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_lines_total",
			Help:      "Inventory line decrements by call site and result.",
		},
		[]string{"site", "result"},
	)

	// OrdersTotal counts order materialization requests by result (created, replay, error).
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order creation requests by result.",
		},
		[]string{"result"},
	)

	// GatewayDuration records Daraja round-trip latency per operation.
	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Latency of Daraja API calls.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30},
		},
		[]string{"op"},
	)

	// EventsTotal counts payment event publications by result.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_events_total",
			Help:      "Payment events published to the broker, by result.",
		},
		[]string{"result"},
	)
)

// ObserveGateway records the time since start for op.
func ObserveGateway(op string, start time.Time) {
	GatewayDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// HTTP traffic collectors. The route label is the registered gin pattern, or
// UnmatchedRoute, so unknown URLs never mint new series.
var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration buckets stretch to 30s because push and query wait on Daraja.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"method", "route"},
	)

	HTTPInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_inflight",
			Help:      "HTTP requests currently being served.",
		},
	)

	// HTTPResponseBytes buckets cover ack bodies up to transaction listings.
	HTTPResponseBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response body size by method and route.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 9),
		},
		[]string{"method", "route"},
	)

	// RateLimitedTotal counts requests refused by the edge limiter, per route.
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests refused with 429, by route.",
		},
		[]string{"route"},
	)
)

// UnmatchedRoute labels requests that hit no registered route.
const UnmatchedRoute = "unmatched"

// ObserveHTTP records one served request. A negative size (hijacked or
// unknown) skips the size histogram.
func ObserveHTTP(method, route string, status int, took time.Duration, size int) {
	if route == "" {
		route = UnmatchedRoute
	}
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(took.Seconds())
	if size >= 0 {
		HTTPResponseBytes.WithLabelValues(method, route).Observe(float64(size))
	}
}
