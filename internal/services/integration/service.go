package integration

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/broker"
	appctx "github.com/Ramsey-B/thistle/pkg/context"
	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/kafka"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/repositories"
	"github.com/Ramsey-B/thistle/pkg/saga"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const (
	sagaCreate          = "create_integration"
	stepInsertMetadata  = "insert-metadata"
	stepStoreCredential = "store-credentials"
)

// CredentialBroker is the broker surface the service drives
type CredentialBroker interface {
	StoreCredentials(ctx context.Context, integrationID, apiKey, webhookSecret string) (*broker.Response, error)
	DeleteCredentials(ctx context.Context, integrationID string) (*broker.Response, error)
}

// Credentials are the optional secrets supplied at creation time
type Credentials struct {
	APIKey        string `json:"api_key,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

func (c *Credentials) empty() bool {
	return c == nil || (c.APIKey == "" && c.WebhookSecret == "")
}

type CreateInput struct {
	Name        string                 `json:"name" validate:"required,max=200"`
	Type        models.IntegrationType `json:"type" validate:"required,oneof=openai n8n nodul custom"`
	EndpointURL *string                `json:"endpoint_url,omitempty" validate:"omitempty,url"`
	Config      map[string]any         `json:"config,omitempty"`
	Enabled     *bool                  `json:"enabled,omitempty"`
	Credentials *Credentials           `json:"credentials,omitempty"`
}

type UpdateInput struct {
	ID          string         `param:"id" json:"-" validate:"required"`
	Name        *string        `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	EndpointURL *string        `json:"endpoint_url,omitempty" validate:"omitempty,url"`
	Config      map[string]any `json:"config,omitempty"`
	Enabled     *bool          `json:"enabled,omitempty"`
}

type Service struct {
	logger    ectologger.Logger
	repo      repositories.IntegrationRepo
	broker    CredentialBroker
	publisher kafka.Publisher
}

func NewService(repo repositories.IntegrationRepo, credentialBroker CredentialBroker, publisher kafka.Publisher, logger ectologger.Logger) *Service {
	if publisher == nil {
		publisher = kafka.NopPublisher{}
	}
	return &Service{
		logger:    logger,
		repo:      repo,
		broker:    credentialBroker,
		publisher: publisher,
	}
}

// Create inserts the metadata row and, when secrets are supplied, stores them
// through the broker. If storing fails the row is deleted again so no
// integration is left claiming credentials it does not have.
func (s *Service) Create(ctx context.Context, input CreateInput) (models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "integration.Create")
	defer span.End()

	if !input.Type.IsValid() {
		return models.Integration{}, httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown integration type %q", input.Type)
	}

	integration := models.Integration{
		Name:        input.Name,
		Type:        input.Type,
		EndpointURL: input.EndpointURL,
		Config:      database.JSONB[map[string]any]{Data: input.Config},
		Enabled:     true,
	}
	if input.Enabled != nil {
		integration.Enabled = *input.Enabled
	}
	if userID := appctx.GetUserID(ctx); userID != "" {
		integration.CreatedBy = &userID
	}

	inserted := false
	create := saga.New(sagaCreate, s.logger).
		AddStep(saga.Step{
			Name: stepInsertMetadata,
			Action: func(ctx context.Context) error {
				if err := s.repo.Create(ctx, &integration); err != nil {
					return err
				}
				inserted = true
				return nil
			},
			Compensate: func(ctx context.Context) error {
				err := s.repo.Delete(ctx, integration.ID)
				if repositories.IsNotFound(err) {
					return nil
				}
				return err
			},
		})

	if !input.Credentials.empty() {
		create.AddStep(saga.Step{
			Name: stepStoreCredential,
			// the broker is all-or-nothing, so there is nothing of its own to undo
			Action: func(ctx context.Context) error {
				_, err := s.broker.StoreCredentials(ctx, integration.ID, input.Credentials.APIKey, input.Credentials.WebhookSecret)
				if err != nil {
					return err
				}
				integration.CredentialsInVault = true
				return nil
			},
		})
	}

	if err := create.Run(ctx); err != nil {
		return models.Integration{}, s.createFailed(ctx, integration.ID, inserted, err)
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id":       integration.ID,
		"type":                 integration.Type,
		"credentials_in_vault": integration.CredentialsInVault,
	}).Info("created integration")
	s.publish(ctx, kafka.EventIntegrationCreated, integration.ID, "")

	return integration.Redacted(), nil
}

func (s *Service) createFailed(ctx context.Context, integrationID string, inserted bool, err error) error {
	stepErr, ok := err.(*saga.StepError)
	if !ok {
		return err
	}

	if inserted {
		s.publish(ctx, kafka.EventIntegrationRolledBack, integrationID, stepErr.Step)
	}

	if stepErr.Compensations != nil {
		s.logger.WithContext(ctx).WithError(stepErr.Compensations).Errorf("integration %s could not be rolled back", integrationID)
		return httperror.NewHTTPError(http.StatusInternalServerError, "Failed to create integration")
	}

	// keep the step's own rendering (broker category, repository status)
	return stepErr.Err
}

func (s *Service) Get(ctx context.Context, id string) (models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "integration.Get")
	defer span.End()

	integration, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return models.Integration{}, err
	}
	return integration.Redacted(), nil
}

func (s *Service) List(ctx context.Context) ([]models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "integration.List")
	defer span.End()

	integrations, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return ectolinq.Map(integrations, func(i models.Integration) models.Integration {
		return i.Redacted()
	}), nil
}

// Update edits metadata only. The vault marker cannot be changed here.
func (s *Service) Update(ctx context.Context, input UpdateInput) (models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "integration.Update")
	defer span.End()

	integration, err := s.repo.GetByID(ctx, input.ID)
	if err != nil {
		return models.Integration{}, err
	}

	if input.Name != nil {
		integration.Name = *input.Name
	}
	if input.EndpointURL != nil {
		integration.EndpointURL = input.EndpointURL
	}
	if input.Config != nil {
		integration.Config = database.JSONB[map[string]any]{Data: input.Config}
	}
	if input.Enabled != nil {
		integration.Enabled = *input.Enabled
	}

	if err := s.repo.Update(ctx, integration); err != nil {
		return models.Integration{}, err
	}

	s.publish(ctx, kafka.EventIntegrationUpdated, integration.ID, "")
	return integration.Redacted(), nil
}

func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) error {
	ctx, span := tracing.StartSpan(ctx, "integration.SetEnabled")
	defer span.End()

	if err := s.repo.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}

	event := kafka.EventIntegrationDisabled
	if enabled {
		event = kafka.EventIntegrationEnabled
	}
	s.publish(ctx, event, id, "")
	return nil
}

// Delete removes the integration and its vault entries through the broker
func (s *Service) Delete(ctx context.Context, id string) (*broker.Response, error) {
	ctx, span := tracing.StartSpan(ctx, "integration.Delete")
	defer span.End()

	return s.broker.DeleteCredentials(ctx, id)
}

func (s *Service) publish(ctx context.Context, eventType, integrationID, reason string) {
	err := s.publisher.PublishAudit(ctx, &kafka.AuditEvent{
		Type:          eventType,
		IntegrationID: integrationID,
		ActorID:       appctx.GetUserID(ctx),
		Reason:        reason,
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warnf("failed to publish %s", eventType)
	}
}
