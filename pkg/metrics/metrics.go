// Package metrics provides Prometheus metrics for the credential broker service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BrokerOperationsTotal tracks broker operations by action and outcome category
	BrokerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "broker",
			Name:      "operations_total",
			Help:      "Total number of credential broker operations by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// BrokerOperationDuration tracks broker operation duration in seconds
	BrokerOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "thistle",
			Subsystem: "broker",
			Name:      "operation_duration_seconds",
			Help:      "Duration of credential broker operations in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"action"},
	)

	// VaultOperationsTotal tracks vault reads and writes
	VaultOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "vault",
			Name:      "operations_total",
			Help:      "Total number of vault operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// SagaRunsTotal tracks provisioning sagas by outcome
	SagaRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "saga",
			Name:      "runs_total",
			Help:      "Total number of saga runs by saga name and outcome",
		},
		[]string{"saga", "outcome"},
	)

	// WebhooksReceivedTotal tracks inbound webhooks by outcome
	WebhooksReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "webhook",
			Name:      "received_total",
			Help:      "Total number of inbound webhooks by outcome",
		},
		[]string{"outcome"},
	)

	// KafkaMessagesPublished tracks messages published to Kafka
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "thistle",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	// LockContentionTotal counts credential writes rejected because another write held the lock
	LockContentionTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "redis",
			Name:      "lock_contention_total",
			Help:      "Total number of credential lock acquisitions that found the lock held",
		},
	)
)

// RecordBrokerOperation records a broker operation metric
func RecordBrokerOperation(action, outcome string, durationSeconds float64) {
	BrokerOperationsTotal.WithLabelValues(action, outcome).Inc()
	BrokerOperationDuration.WithLabelValues(action).Observe(durationSeconds)
}

// RecordVaultOperation records a vault operation metric
func RecordVaultOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	VaultOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordSaga records a saga outcome
func RecordSaga(saga, outcome string) {
	SagaRunsTotal.WithLabelValues(saga, outcome).Inc()
}

// RecordWebhook records an inbound webhook outcome
func RecordWebhook(outcome string) {
	WebhooksReceivedTotal.WithLabelValues(outcome).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}

// RecordLockContention records a lock that was already held
func RecordLockContention() {
	LockContentionTotal.Inc()
}
