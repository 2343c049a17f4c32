package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const integrationsTable = "integrations"

var integrationStruct = database.NewStruct(new(models.Integration))

// IntegrationRepository handles database operations for integrations
type IntegrationRepository struct {
	*Repository
}

// NewIntegrationRepository creates a new integration repository
func NewIntegrationRepository(db database.DB, logger ectologger.Logger) *IntegrationRepository {
	return &IntegrationRepository{
		Repository: NewRepository(db, logger),
	}
}

func integrationNotFound(id string) error {
	return httperror.NewHTTPErrorf(http.StatusNotFound, "integration %s does not exist", id)
}

// Create inserts a metadata-only integration. The vault marker always starts
// false and plaintext secret columns are never written.
func (r *IntegrationRepository) Create(ctx context.Context, integration *models.Integration) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.Create")
	defer span.End()

	if integration.ID == "" {
		integration.ID = uuid.New().String()
	}
	if integration.Config.Data == nil {
		integration.Config.Data = map[string]any{}
	}
	integration.CredentialsInVault = false
	integration.APIKey = nil
	integration.WebhookSecret = nil

	ib := database.NewInsertBuilder()
	ib.InsertInto(integrationsTable).
		Cols("id", "name", "type", "endpoint_url", "config", "enabled", "credentials_in_vault", "created_by", "created_at", "updated_at").
		Values(integration.ID, integration.Name, string(integration.Type), integration.EndpointURL, integration.Config,
			integration.Enabled, false, integration.CreatedBy, database.Now(), database.Now()).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.Exec(ctx).QueryRowContext(ctx, query, args...).Scan(&integration.CreatedAt, &integration.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": integration.ID,
		}).Error("failed to create integration")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create integration")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": integration.ID,
	}).Debugf("Created %s", integrationsTable)
	return nil
}

// GetByID retrieves an integration by ID
func (r *IntegrationRepository) GetByID(ctx context.Context, id string) (*models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.GetByID")
	defer span.End()

	return r.get(ctx, id, false)
}

// GetByIDForUpdate retrieves an integration and locks its row until the
// transaction on ctx ends.
func (r *IntegrationRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.GetByIDForUpdate")
	defer span.End()

	return r.get(ctx, id, true)
}

func (r *IntegrationRepository) get(ctx context.Context, id string, forUpdate bool) (*models.Integration, error) {
	parsed, ok := parseID(id)
	if !ok {
		return nil, integrationNotFound(id)
	}

	sb := integrationStruct.SelectFrom(integrationsTable)
	sb.Where(sb.Equal("id", parsed))
	if forUpdate {
		sb.ForUpdate()
	}

	query, args := sb.Build()
	var integration models.Integration
	err := r.Exec(ctx).GetContext(ctx, &integration, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, integrationNotFound(id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": id,
		}).Error("failed to get integration by ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get integration by ID")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": id,
	}).Debugf("Retrieved %s by ID: %s", integrationsTable, id)
	return &integration, nil
}

// List retrieves all integrations, newest first
func (r *IntegrationRepository) List(ctx context.Context) ([]models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.List")
	defer span.End()

	sb := integrationStruct.SelectFrom(integrationsTable)
	sb.OrderBy("created_at").Desc()

	query, args := sb.Build()
	integrations := []models.Integration{}
	err := r.Exec(ctx).SelectContext(ctx, &integrations, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list integrations")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list integrations")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_count": len(integrations),
	}).Debugf("Listed %s", integrationsTable)
	return integrations, nil
}

// Update writes the editable metadata of an integration. The vault marker and
// the secret columns are not editable here.
func (r *IntegrationRepository) Update(ctx context.Context, integration *models.Integration) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.Update")
	defer span.End()

	id, ok := parseID(integration.ID)
	if !ok {
		return integrationNotFound(integration.ID)
	}
	if integration.Config.Data == nil {
		integration.Config.Data = map[string]any{}
	}

	ub := database.NewUpdateBuilder()
	ub.Update(integrationsTable).
		Set(
			ub.Assign("name", integration.Name),
			ub.Assign("endpoint_url", integration.EndpointURL),
			ub.Assign("config", integration.Config),
			ub.Assign("enabled", integration.Enabled),
			ub.Assign("updated_at", database.Now()),
		).
		Where(ub.Equal("id", id))
	ub.SQL("RETURNING updated_at")

	query, args := ub.Build()
	err := r.Exec(ctx).QueryRowContext(ctx, query, args...).Scan(&integration.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return integrationNotFound(integration.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": integration.ID,
		}).Error("failed to update integration")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update integration")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": integration.ID,
	}).Debugf("Updated %s", integrationsTable)
	return nil
}

// SetEnabled toggles an integration
func (r *IntegrationRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.SetEnabled")
	defer span.End()

	parsed, ok := parseID(id)
	if !ok {
		return integrationNotFound(id)
	}

	ub := database.NewUpdateBuilder()
	ub.Update(integrationsTable).
		Set(
			ub.Assign("enabled", enabled),
			ub.Assign("updated_at", database.Now()),
		).
		Where(ub.Equal("id", parsed))

	query, args := ub.Build()
	return r.execAffectingOne(ctx, id, "failed to update integration", query, args...)
}

// MarkCredentialsInVault sets the vault marker and clears both plaintext
// columns in one statement.
func (r *IntegrationRepository) MarkCredentialsInVault(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.MarkCredentialsInVault")
	defer span.End()

	parsed, ok := parseID(id)
	if !ok {
		return integrationNotFound(id)
	}

	ub := database.NewUpdateBuilder()
	ub.Update(integrationsTable).
		Set(
			ub.Assign("credentials_in_vault", true),
			ub.Assign("api_key", nil),
			ub.Assign("webhook_secret", nil),
			ub.Assign("updated_at", database.Now()),
		).
		Where(ub.Equal("id", parsed))

	query, args := ub.Build()
	return r.execAffectingOne(ctx, id, "failed to mark integration credentials", query, args...)
}

// Delete deletes an integration by ID
func (r *IntegrationRepository) Delete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.Delete")
	defer span.End()

	parsed, ok := parseID(id)
	if !ok {
		return integrationNotFound(id)
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(integrationsTable).
		Where(db.Equal("id", parsed))

	query, args := db.Build()
	return r.execAffectingOne(ctx, id, "failed to delete integration", query, args...)
}

func (r *IntegrationRepository) execAffectingOne(ctx context.Context, id, failure, query string, args ...any) error {
	result, err := r.Exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": id,
		}).Error(failure)
		return httperror.NewHTTPError(http.StatusInternalServerError, failure)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": id,
		}).Error(failure)
		return httperror.NewHTTPError(http.StatusInternalServerError, failure)
	}
	if rows == 0 {
		return integrationNotFound(id)
	}
	return nil
}
