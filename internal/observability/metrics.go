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
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests processed by the gateway.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	proxyRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_refresh_total",
			Help: "Token refresh attempts made by the API proxy.",
		},
		[]string{"result"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_ws_active_connections",
			Help: "Number of active browser websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	stompDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_stomp_dropped_messages_total",
			Help: "STOMP messages dropped because the payload could not be decoded or failed validation.",
		},
		[]string{"topic"},
	)
	sessionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_session_transitions_total",
			Help: "Realtime session state transitions.",
		},
		[]string{"to"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		proxyRefreshTotal,
		wsActiveConnections,
		wsEventsTotal,
		stompDroppedTotal,
		sessionTransitionsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			// proxied paths are unbounded; keep label cardinality flat
			route = "proxy"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncProxyRefresh(result string) {
	proxyRefreshTotal.WithLabelValues(result).Inc()
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

// IncStompDropped counts a dropped payload. topic should be a template,
// not a resolved destination.
func IncStompDropped(topic string) {
	stompDroppedTotal.WithLabelValues(topic).Inc()
}

func IncSessionTransition(to string) {
	sessionTransitionsTotal.WithLabelValues(to).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
