package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "wes"
	subsystem = "dm"
)

// Delivery miss reasons.
const (
	MissOffline    = "offline"
	MissBufferFull = "buffer_full"
	MissRelay      = "relay_error"
)

var (
	// Connection gauges
	ConnectedHandles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connected_handles",
			Help:      "Number of open websocket connections on this instance",
		},
	)

	IdentifiedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "identified_users",
			Help:      "Number of distinct users with at least one identified connection",
		},
	)

	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_appended_total",
			Help:      "Total messages appended, by kind",
		},
		[]string{"kind"},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_delivered_total",
			Help:      "Total events pushed to connection handles, by type",
		},
		[]string{"type"},
	)

	DeliveryMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "delivery_misses_total",
			Help:      "Total events that were not delivered, by reason",
		},
		[]string{"reason"},
	)

	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "conversations_created_total",
			Help:      "Total conversations created",
		},
	)

	ConversationConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "conversation_create_conflicts_total",
			Help:      "Total conversation creates that lost the race and re-fetched",
		},
	)

	ReactionsUpdated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reactions_updated_total",
			Help:      "Total reaction mutations, by operation",
		},
		[]string{"op"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_published_total",
			Help:      "Kafka delivery reports, by event type and result",
		},
		[]string{"type", "result"},
	)

	// Store append duration
	AppendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "append_duration_seconds",
			Help:      "Message append duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"kind"},
	)

	// HTTP request counters
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordAppend records a persisted message
func RecordAppend(kind string, durationSec float64) {
	MessagesAppended.WithLabelValues(kind).Inc()
	AppendDuration.WithLabelValues(kind).Observe(durationSec)
}

// RecordDelivery records one event pushed to one handle
func RecordDelivery(eventType string) {
	EventsDelivered.WithLabelValues(eventType).Inc()
}

// RecordMiss records an event that was dropped
func RecordMiss(reason string) {
	DeliveryMisses.WithLabelValues(reason).Inc()
}

func RecordReaction(op string) {
	ReactionsUpdated.WithLabelValues(op).Inc()
}

// RecordPublish records a broker delivery report
func RecordPublish(eventType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventsPublished.WithLabelValues(eventType, result).Inc()
}

func RecordRequest(method, route, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, route, status).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(durationSec)
}
