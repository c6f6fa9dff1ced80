// Package metrics provides Prometheus metrics for the banklink service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEventsTotal tracks inbound webhook deliveries by category and outcome
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "banklink",
			Subsystem: "webhooks",
			Name:      "events_total",
			Help:      "Total number of inbound webhook deliveries by category and outcome",
		},
		[]string{"category", "outcome"},
	)

	// SyncSweepsTotal tracks ledger sweeps by status
	SyncSweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "banklink",
			Subsystem: "ledger",
			Name:      "sweeps_total",
			Help:      "Total number of transaction sweeps by status",
		},
		[]string{"status"},
	)

	// SyncSweepDuration tracks ledger sweep duration in seconds
	SyncSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "banklink",
			Subsystem: "ledger",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of transaction sweeps in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// SyncSweepRestartsTotal tracks sweeps restarted after mid-pagination mutations
	SyncSweepRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "banklink",
			Subsystem: "ledger",
			Name:      "sweep_restarts_total",
			Help:      "Total number of sweep restarts caused by provider data mutating during pagination",
		},
	)

	// LedgerWritesTotal tracks ledger rows written by operation
	LedgerWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "banklink",
			Subsystem: "ledger",
			Name:      "writes_total",
			Help:      "Total number of ledger rows written by operation",
		},
		[]string{"operation"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "banklink",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "banklink",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// LinkSessionsTotal tracks completed linking sessions by reported status
	LinkSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "banklink",
			Subsystem: "linker",
			Name:      "sessions_total",
			Help:      "Total number of completed linking sessions by reported status",
		},
		[]string{"status"},
	)
)

// RecordWebhookEvent records one inbound delivery
func RecordWebhookEvent(category, outcome string) {
	WebhookEventsTotal.WithLabelValues(category, outcome).Inc()
}

// RecordSweep records one completed or failed sweep
func RecordSweep(status string, durationSeconds float64) {
	SyncSweepsTotal.WithLabelValues(status).Inc()
	SyncSweepDuration.Observe(durationSeconds)
}

// RecordLedgerWrites records rows written during a sweep
func RecordLedgerWrites(operation string, count int) {
	if count > 0 {
		LedgerWritesTotal.WithLabelValues(operation).Add(float64(count))
	}
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}

// RecordLinkSession records a completed linking session
func RecordLinkSession(status string) {
	LinkSessionsTotal.WithLabelValues(status).Inc()
}
