package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conclave_http_requests_total",
			Help: "Total number of HTTP requests processed, labeled by backend.",
		},
		[]string{"backend", "method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conclave_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conclave_ws_active_connections",
			Help: "Number of active duplex sessions.",
		},
		[]string{"backend"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conclave_ws_events_total",
			Help: "Total number of duplex protocol events processed.",
		},
		[]string{"backend", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conclave_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	storeRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conclave_store_retries_total",
			Help: "Total number of Store operation retries due to transient errors.",
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		storeRetriesTotal,
	)
}

// HTTPMetricsMiddleware mirrors the teacher's gin middleware, labeled per
// backend (gateway, chat, video) since all three binaries share this package.
func HTTPMetricsMiddleware(backend string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(backend, c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(backend, route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive(backend string) {
	wsActiveConnections.WithLabelValues(backend).Inc()
}

func DecWSActive(backend string) {
	wsActiveConnections.WithLabelValues(backend).Dec()
}

func IncWSEvent(backend, event string) {
	wsEventsTotal.WithLabelValues(backend, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncStoreRetry(backend string) {
	storeRetriesTotal.WithLabelValues(backend).Inc()
}
