package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studybuddy_http_requests_total",
			Help: "Total number of HTTP requests processed by the studybuddy chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studybuddy_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "studybuddy_ws_active_connections",
			Help: "Number of active chat websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studybuddy_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"event"},
	)
	busPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studybuddy_bus_published_total",
			Help: "Events published to broadcast groups, by kind.",
		},
		[]string{"kind"},
	)
	busDeliveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studybuddy_bus_delivered_total",
			Help: "Events handed to local subscribers.",
		},
	)
	busEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studybuddy_bus_evicted_total",
			Help: "Subscribers dropped from a group because they could not take a delivery.",
		},
	)
	busRelayErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studybuddy_bus_relay_errors_total",
			Help: "Errors forwarding or decoding events through the broker relay.",
		},
		[]string{"op"},
	)
	busGroups = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "studybuddy_bus_groups",
			Help: "Broadcast groups with at least one local subscriber.",
		},
	)
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studybuddy_chat_messages_total",
			Help: "Chat messages received over websockets, by persistence outcome.",
		},
		[]string{"outcome"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studybuddy_amqp_publish_errors_total",
			Help: "Total number of AMQP event publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		busPublishedTotal,
		busDeliveredTotal,
		busEvictedTotal,
		busRelayErrorsTotal,
		busGroups,
		messagesTotal,
		amqpPublishErrorsTotal,
	)
}

// HTTPMetricsMiddleware records request counts and latencies per route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler serves the default registry.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncBusPublished(kind string) {
	busPublishedTotal.WithLabelValues(kind).Inc()
}

func AddBusDelivered(n int) {
	busDeliveredTotal.Add(float64(n))
}

func AddBusEvicted(n int) {
	busEvictedTotal.Add(float64(n))
}

func IncBusRelayError(op string) {
	busRelayErrorsTotal.WithLabelValues(op).Inc()
}

func SetBusGroups(n int) {
	busGroups.Set(float64(n))
}

// Message outcomes.
const (
	MessagePersisted = "persisted"
	MessageSkipped   = "skipped"
	MessageFailed    = "failed"
)

func IncMessage(outcome string) {
	messagesTotal.WithLabelValues(outcome).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
