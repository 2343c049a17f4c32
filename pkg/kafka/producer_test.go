package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func newTestProducer() (*Producer, *fakeWriter, *fakeWriter) {
	audit, jobs := &fakeWriter{}, &fakeWriter{}
	return &Producer{
		auditWriter: audit,
		jobWriter:   jobs,
		logger:      ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}),
		auditTopic:  "integration-audit",
		jobTopic:    "ai-jobs",
	}, audit, jobs
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestProducer_PublishAudit(t *testing.T) {
	p, audit, _ := newTestProducer()

	err := p.PublishAudit(context.Background(), &AuditEvent{
		Type:          EventCredentialsStored,
		IntegrationID: "int-1",
		ActorID:       "admin-1",
		Secrets:       []string{"api_key"},
	})
	require.NoError(t, err)
	require.Len(t, audit.messages, 1)

	msg := audit.messages[0]
	assert.Equal(t, "int-1", string(msg.Key))
	assert.Equal(t, EventCredentialsStored, header(msg, "type"))

	var evt AuditEvent
	require.NoError(t, json.Unmarshal(msg.Value, &evt))
	assert.Equal(t, []string{"api_key"}, evt.Secrets)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestProducer_PublishJob(t *testing.T) {
	p, _, jobs := newTestProducer()

	err := p.PublishJob(context.Background(), &JobMessage{
		JobID:         7,
		IntegrationID: "int-1",
		Provider:      "n8n",
		Payload:       map[string]any{"content": "hello"},
	})
	require.NoError(t, err)
	require.Len(t, jobs.messages, 1)
	assert.Equal(t, "n8n", header(jobs.messages[0], "provider"))
}

func TestProducer_WriteError(t *testing.T) {
	p, audit, _ := newTestProducer()
	audit.err = errors.New("broker unavailable")

	err := p.PublishAudit(context.Background(), &AuditEvent{Type: EventCredentialsDeleted, IntegrationID: "int-1"})
	assert.Error(t, err)
	assert.Error(t, p.PublishAudit(context.Background(), nil))
}

func TestProducer_Close(t *testing.T) {
	p, audit, jobs := newTestProducer()
	require.NoError(t, p.Close())
	assert.True(t, audit.closed)
	assert.True(t, jobs.closed)
}
