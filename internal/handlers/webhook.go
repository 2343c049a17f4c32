package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/kafka"
	"github.com/Ramsey-B/thistle/pkg/metrics"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/repositories"
	"github.com/Ramsey-B/thistle/pkg/tracing"
	"github.com/Ramsey-B/thistle/pkg/utils"
	"github.com/Ramsey-B/thistle/pkg/vault"
	"github.com/Ramsey-B/thistle/pkg/webhook"
)

const maxWebhookBody = 1 << 20

// IntegrationReader looks up integrations by id
type IntegrationReader interface {
	GetByID(ctx context.Context, id string) (*models.Integration, error)
}

// SecretReader reads vault entries
type SecretReader interface {
	Get(ctx context.Context, name string) (string, error)
}

// WebhookHandler accepts provider pushes and queues AI jobs
type WebhookHandler struct {
	integrations IntegrationReader
	secrets      SecretReader
	jobs         repositories.JobRepo
	publisher    kafka.Publisher
	logger       ectologger.Logger
}

func NewWebhookHandler(
	integrations IntegrationReader,
	secrets SecretReader,
	jobs repositories.JobRepo,
	publisher kafka.Publisher,
	logger ectologger.Logger,
) *WebhookHandler {
	if publisher == nil {
		publisher = kafka.NopPublisher{}
	}
	return &WebhookHandler{
		integrations: integrations,
		secrets:      secrets,
		jobs:         jobs,
		publisher:    publisher,
		logger:       logger,
	}
}

// WebhookResponse acknowledges a queued job
type WebhookResponse struct {
	Success bool  `json:"success"`
	JobID   int64 `json:"job_id"`
}

// RegisterRoutes registers the webhook intake. It is authenticated by
// signature, not by bearer token.
func (h *WebhookHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/webhooks/:integration_id", h.Receive)
}

// Receive handles POST /webhooks/:integration_id
func (h *WebhookHandler) Receive(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "WebhookHandler.Receive")
	defer span.End()

	id, err := PathParam(c, "integration_id")
	if err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return BadRequest("failed to read request body")
	}
	if len(body) > maxWebhookBody {
		return httperror.NewHTTPError(http.StatusRequestEntityTooLarge, "request body is too large")
	}

	integration, err := h.integrations.GetByID(ctx, id)
	if repositories.IsNotFound(err) || (err == nil && !integration.Enabled) {
		metrics.RecordWebhook("not_found")
		return NotFound("Integration not found or disabled")
	}
	if err != nil {
		return err
	}

	if err := h.verify(ctx, integration, body, c.Request().Header.Get(webhook.SignatureHeader)); err != nil {
		return err
	}

	var payload webhook.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.RecordWebhook("invalid")
		return BadRequest("request body is not valid JSON")
	}
	if _, err := utils.Validate(payload); err != nil {
		metrics.RecordWebhook("invalid")
		return httperror.WrapError(http.StatusBadRequest, err)
	}

	jobPayload, err := payload.Normalize(integration.Type)
	if err != nil {
		metrics.RecordWebhook("invalid")
		return BadRequest(err.Error())
	}

	job := &models.AIJob{
		IntegrationID: &integration.ID,
		Provider:      string(integration.Type),
		Payload:       database.JSONB[map[string]any]{Data: jobPayload},
		Status:        models.JobStatusQueued,
	}
	if err := h.jobs.Create(ctx, job); err != nil {
		return err
	}

	err = h.publisher.PublishJob(ctx, &kafka.JobMessage{
		JobID:         job.ID,
		IntegrationID: integration.ID,
		Provider:      job.Provider,
		Payload:       jobPayload,
	})
	if err != nil {
		// the row stays queued and can be picked up from the table
		h.logger.WithContext(ctx).WithError(err).Warnf("Failed to publish job %d", job.ID)
	}

	metrics.RecordWebhook("accepted")
	h.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": integration.ID,
		"job_id":         job.ID,
		"provider":       job.Provider,
	}).Info("queued ai job")

	return AcceptedResponse(c, WebhookResponse{Success: true, JobID: job.ID})
}

// verify checks the signature when the integration has a webhook secret,
// vaulted or legacy plaintext.
func (h *WebhookHandler) verify(ctx context.Context, integration *models.Integration, body []byte, signature string) error {
	secret, err := h.webhookSecret(ctx, integration)
	if err != nil {
		return err
	}
	if secret == "" {
		return nil
	}

	if err := webhook.Verify(secret, body, signature); err != nil {
		metrics.RecordWebhook("rejected")
		h.logger.WithContext(ctx).WithField("integration_id", integration.ID).Warn("webhook signature rejected")
		pubErr := h.publisher.PublishAudit(ctx, &kafka.AuditEvent{
			Type:          kafka.EventWebhookSignatureFailed,
			IntegrationID: integration.ID,
			Reason:        err.Error(),
		})
		if pubErr != nil {
			h.logger.WithContext(ctx).WithError(pubErr).Warn("failed to publish signature failure")
		}
		return Unauthorized("invalid webhook signature")
	}
	return nil
}

func (h *WebhookHandler) webhookSecret(ctx context.Context, integration *models.Integration) (string, error) {
	if !integration.CredentialsInVault {
		if integration.WebhookSecret != nil {
			return *integration.WebhookSecret, nil
		}
		return "", nil
	}

	secret, err := h.secrets.Get(ctx, vault.SecretName(integration.ID, vault.PurposeWebhookSecret))
	if errors.Is(err, vault.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Errorf("Failed to read webhook secret for integration %s", integration.ID)
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
	}
	return secret, nil
}
