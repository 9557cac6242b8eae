package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_messages_consumed_total",
			Help: "Total number of messages consumed from the broker",
		},
		[]string{"queue"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Total number of delivery attempts by final status",
		},
		[]string{"channel", "provider", "status"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_send_duration_seconds",
			Help:    "Provider send duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"channel", "provider"},
	)

	retryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_retry_attempts_total",
			Help: "Total number of send retry attempts",
		},
		[]string{"channel"},
	)

	dlqMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dlq_messages_total",
			Help: "Total number of messages rejected to the DLQ",
		},
		[]string{"queue", "reason"},
	)

	processingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_processing_duration_seconds",
			Help:    "End-to-end message processing duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"channel"},
	)

	webhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_webhook_events_total",
			Help: "Total number of webhook events by outcome",
		},
		[]string{"channel", "event", "outcome"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"dependency"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_preference_cache_lookups_total",
			Help: "Preference cache lookups by result",
		},
		[]string{"result"},
	)
)

// RecordMessageConsumed records a consumed message
func RecordMessageConsumed(queue string) {
	messagesConsumedTotal.WithLabelValues(queue).Inc()
}

// RecordDelivery records a delivery reaching a final pipeline status
func RecordDelivery(channel, provider, status string) {
	deliveriesTotal.WithLabelValues(channel, provider, status).Inc()
}

// RecordSendDuration records one provider send call
func RecordSendDuration(channel, provider string, duration time.Duration) {
	sendDuration.WithLabelValues(channel, provider).Observe(duration.Seconds())
}

// RecordRetryAttempt records a retry attempt
func RecordRetryAttempt(channel string) {
	retryAttemptsTotal.WithLabelValues(channel).Inc()
}

// RecordDLQMessage records a message rejected without requeue
func RecordDLQMessage(queue, reason string) {
	dlqMessagesTotal.WithLabelValues(queue, reason).Inc()
}

// RecordProcessing records message processing duration
func RecordProcessing(channel string, duration time.Duration) {
	processingDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordWebhookEvent records one inbound transport callback
func RecordWebhookEvent(channel, event, outcome string) {
	webhookEventsTotal.WithLabelValues(channel, event, outcome).Inc()
}

// SetBreakerState publishes a breaker's state
func SetBreakerState(dependency string, state int) {
	breakerState.WithLabelValues(dependency).Set(float64(state))
}

// RecordCacheLookup records a preference cache hit/miss/error
func RecordCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}
