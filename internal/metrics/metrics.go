// Package metrics provides Prometheus instrumentation for the wallet engine.
package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gigvault",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gigvault",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SettlementsTotal counts settlement operations by operation and outcome.
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gigvault",
			Name:      "settlements_total",
			Help:      "Total settlement operations by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	// EscrowsTotal counts escrow transitions by final state.
	EscrowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gigvault",
			Name:      "escrows_total",
			Help:      "Total escrow transitions by state.",
		},
		[]string{"state"},
	)

	// WebhookEventsTotal counts inbound gateway webhook deliveries by result.
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gigvault",
			Name:      "webhook_events_total",
			Help:      "Total inbound gateway webhook deliveries by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks currently connected event stream clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gigvault",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SettlementsTotal,
		EscrowsTotal,
		WebhookEventsTotal,
		ActiveWebSocketClients,
	)
}

// Middleware records request counts and latency per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()

		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusLabel(status)).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func statusLabel(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
