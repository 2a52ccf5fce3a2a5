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
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"event"},
	)
	messagesAcceptedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_accepted_total",
			Help: "Messages accepted by the gateway and fanned out.",
		},
	)
	fanoutDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_fanout_dropped_total",
			Help: "Sessions dropped because their outbound queue was full.",
		},
	)
	outboxDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_outbox_dropped_total",
			Help: "Accepted messages never handed to the broker because the outbox was full.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	brokerConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_broker_connected",
			Help: "1 while the broker connection for the role is established.",
		},
		[]string{"role"},
	)
	messagesPersistedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_persisted_total",
			Help: "Envelopes written to the durable store by the worker.",
		},
	)
	workerFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_worker_failures_total",
			Help: "Envelopes the worker could not persist, by outcome.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		messagesAcceptedTotal,
		fanoutDroppedTotal,
		outboxDroppedTotal,
		amqpPublishErrorsTotal,
		brokerConnected,
		messagesPersistedTotal,
		workerFailuresTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
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

func IncMessageAccepted() {
	messagesAcceptedTotal.Inc()
}

func IncFanoutDropped() {
	fanoutDroppedTotal.Inc()
}

func IncOutboxDropped() {
	outboxDroppedTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func SetBrokerConnected(role string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	brokerConnected.WithLabelValues(role).Set(v)
}

func IncMessagePersisted() {
	messagesPersistedTotal.Inc()
}

func IncWorkerFailure(reason string) {
	workerFailuresTotal.WithLabelValues(reason).Inc()
}
