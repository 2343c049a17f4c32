package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/thistle/pkg/metrics"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// Config holds Kafka configuration
type Config struct {
	Brokers    []string
	AuditTopic string
	JobTopic   string
}

// Audit event types
const (
	EventCredentialsStored      = "credentials.stored"
	EventCredentialsDeleted     = "credentials.deleted"
	EventIntegrationCreated     = "integration.created"
	EventIntegrationRolledBack  = "integration.rolled_back"
	EventIntegrationUpdated     = "integration.updated"
	EventIntegrationEnabled     = "integration.enabled"
	EventIntegrationDisabled    = "integration.disabled"
	EventWebhookSignatureFailed = "webhook.signature_failed"
)

// AuditEvent describes a change to an integration or its credentials. It
// names which secrets were touched, never their values.
type AuditEvent struct {
	Type          string    `json:"type"`
	IntegrationID string    `json:"integration_id"`
	ActorID       string    `json:"actor_id,omitempty"`
	Secrets       []string  `json:"secrets,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	TraceID       string    `json:"trace_id,omitempty"`
}

// JobMessage hands a queued AI job to the generation workers
type JobMessage struct {
	JobID         int64          `json:"job_id"`
	IntegrationID string         `json:"integration_id"`
	Provider      string         `json:"provider"`
	Payload       map[string]any `json:"payload"`
	Timestamp     time.Time      `json:"timestamp"`
	TraceID       string         `json:"trace_id,omitempty"`
}

// Publisher is what the rest of the service publishes through
type Publisher interface {
	PublishAudit(ctx context.Context, evt *AuditEvent) error
	PublishJob(ctx context.Context, msg *JobMessage) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles producing messages to Kafka
type Producer struct {
	auditWriter messageWriter
	jobWriter   messageWriter
	logger      ectologger.Logger
	auditTopic  string
	jobTopic    string
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// dev clusters may not have the topics yet
		AllowAutoTopicCreation: true,
	}
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	return &Producer{
		auditWriter: newWriter(cfg.Brokers, cfg.AuditTopic),
		jobWriter:   newWriter(cfg.Brokers, cfg.JobTopic),
		logger:      logger,
		auditTopic:  cfg.AuditTopic,
		jobTopic:    cfg.JobTopic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	var firstErr error
	if err := p.auditWriter.Close(); err != nil {
		firstErr = err
	}
	if err := p.jobWriter.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// PublishAudit publishes an audit event keyed by integration
func (p *Producer) PublishAudit(ctx context.Context, evt *AuditEvent) error {
	if evt == nil {
		return fmt.Errorf("audit event is nil")
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.TraceID = tracing.GetTraceID(ctx)

	return p.write(ctx, p.auditWriter, p.auditTopic, evt.IntegrationID, evt, kafka.Header{Key: "type", Value: []byte(evt.Type)})
}

// PublishJob publishes a queued job keyed by integration
func (p *Producer) PublishJob(ctx context.Context, msg *JobMessage) error {
	if msg == nil {
		return fmt.Errorf("job message is nil")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.TraceID = tracing.GetTraceID(ctx)

	return p.write(ctx, p.jobWriter, p.jobTopic, msg.IntegrationID, msg, kafka.Header{Key: "provider", Value: []byte(msg.Provider)})
}

func (p *Producer) write(ctx context.Context, w messageWriter, topic, key string, v any, extra ...kafka.Header) error {
	ctx, span := tracing.StartSpan(ctx, "Kafka.Publish")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("integration_id", key),
	)

	data, err := json.Marshal(v)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal message")
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	headers := append([]kafka.Header{{Key: "integration_id", Value: []byte(key)}}, extra...)
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	start := time.Now()
	err = w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	})
	if err != nil {
		metrics.RecordKafkaPublish(topic, "error", time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish message")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to Kafka topic %s", topic)
		return err
	}

	metrics.RecordKafkaPublish(topic, "success", time.Since(start).Seconds())
	span.SetStatus(codes.Ok, "message published")
	return nil
}

// NopPublisher drops everything. It is used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishAudit(context.Context, *AuditEvent) error { return nil }
func (NopPublisher) PublishJob(context.Context, *JobMessage) error   { return nil }
func (NopPublisher) Close() error                                    { return nil }
