package broker

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	appctx "github.com/Ramsey-B/thistle/pkg/context"
	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/kafka"
	"github.com/Ramsey-B/thistle/pkg/metrics"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/redis"
	"github.com/Ramsey-B/thistle/pkg/repositories"
	"github.com/Ramsey-B/thistle/pkg/tracing"
	"github.com/Ramsey-B/thistle/pkg/vault"
)

const (
	ActionStore  = "store"
	ActionDelete = "delete"

	MessageStored  = "Credentials stored securely"
	MessageDeleted = "Integration and credentials deleted"

	// LockKeyPrefix namespaces broker locks in redis
	LockKeyPrefix = "thistle:credentials:"
)

// Request is the body accepted by the credentials endpoint
type Request struct {
	Action        string `json:"action" validate:"required"`
	IntegrationID string `json:"integrationId" validate:"required"`
	APIKey        string `json:"apiKey,omitempty"`
	WebhookSecret string `json:"webhookSecret,omitempty"`
}

// Response acknowledges a broker operation. It never carries secret material.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Transactor opens a transaction carried by the returned context
type Transactor interface {
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error)
}

// IntegrationStore is the slice of the integration repository the broker mutates
type IntegrationStore interface {
	GetByIDForUpdate(ctx context.Context, id string) (*models.Integration, error)
	Delete(ctx context.Context, id string) error
	MarkCredentialsInVault(ctx context.Context, id string) error
}

// RoleResolver looks up the platform role of a verified caller
type RoleResolver interface {
	GetRoleByUserID(ctx context.Context, userID string) (models.Role, error)
}

// Locker serializes operations on one integration across instances
type Locker interface {
	Lock(ctx context.Context, key string) (func(context.Context) error, error)
}

// Broker is the only path by which secret material for an integration is
// written to or removed from storage.
type Broker struct {
	db           Transactor
	integrations IntegrationStore
	roles        RoleResolver
	vault        vault.Vault
	publisher    kafka.Publisher
	locker       Locker
	logger       ectologger.Logger
}

// NewBroker creates a broker. locker and publisher may be nil.
func NewBroker(
	db Transactor,
	integrations IntegrationStore,
	roles RoleResolver,
	v vault.Vault,
	publisher kafka.Publisher,
	locker Locker,
	logger ectologger.Logger,
) *Broker {
	if publisher == nil {
		publisher = kafka.NopPublisher{}
	}
	return &Broker{
		db:           db,
		integrations: integrations,
		roles:        roles,
		vault:        v,
		publisher:    publisher,
		locker:       locker,
		logger:       logger,
	}
}

// Handle dispatches a request by its action
func (b *Broker) Handle(ctx context.Context, req Request) (*Response, error) {
	switch req.Action {
	case ActionStore:
		return b.StoreCredentials(ctx, req.IntegrationID, req.APIKey, req.WebhookSecret)
	case ActionDelete:
		return b.DeleteCredentials(ctx, req.IntegrationID)
	default:
		return nil, newError(CategoryInvalidRequest, "Invalid action", nil)
	}
}

// resolveRole re-reads the caller's role from the profiles relation. It is
// called at the start of every operation and never cached.
func (b *Broker) resolveRole(ctx context.Context) error {
	userID := appctx.GetUserID(ctx)
	if userID == "" {
		return newError(CategoryUnauthorized, "authentication required", nil)
	}

	role, err := b.roles.GetRoleByUserID(ctx, userID)
	if err != nil {
		b.logger.WithContext(ctx).WithError(err).Errorf("Failed to resolve role for user %s", userID)
		return newError(CategoryInternal, "internal error", err)
	}
	if role != models.RoleAdmin {
		b.logger.WithContext(ctx).Warnf("User %s with role %q denied credential access", userID, role)
		return newError(CategoryForbidden, "Admin access required", nil)
	}
	return nil
}

func (b *Broker) lock(ctx context.Context, integrationID string) (func(context.Context) error, error) {
	if b.locker == nil {
		return func(context.Context) error { return nil }, nil
	}

	release, err := b.locker.Lock(ctx, LockKeyPrefix+integrationID)
	if errors.Is(err, redis.ErrLockNotAcquired) {
		metrics.RecordLockContention()
		return nil, newError(CategoryConflict, "another credential operation is in progress for this integration", err)
	}
	if err != nil {
		b.logger.WithContext(ctx).WithError(err).Errorf("Failed to lock integration %s", integrationID)
		return nil, newError(CategoryInternal, "internal error", err)
	}
	return release, nil
}

func (b *Broker) unlock(ctx context.Context, integrationID string, release func(context.Context) error) {
	if err := release(ctx); err != nil {
		b.logger.WithContext(ctx).WithError(err).Warnf("Failed to release lock for integration %s", integrationID)
	}
}

func (b *Broker) loadForUpdate(ctx context.Context, integrationID string) error {
	_, err := b.integrations.GetByIDForUpdate(ctx, integrationID)
	if repositories.IsNotFound(err) {
		return newError(CategoryIntegrationNotFound, "Integration not found", err)
	}
	if err != nil {
		return newError(CategoryInternal, "internal error", err)
	}
	return nil
}

// priorEntry is the vault state of one name before this call touched it
type priorEntry struct {
	name    string
	value   string
	existed bool
}

func (b *Broker) snapshot(ctx context.Context, name string) (priorEntry, error) {
	value, err := b.vault.Get(ctx, name)
	if errors.Is(err, vault.ErrNotFound) {
		return priorEntry{name: name}, nil
	}
	if err != nil {
		return priorEntry{}, err
	}
	return priorEntry{name: name, value: value, existed: true}, nil
}

// restore puts entries back the way they were, newest first
func (b *Broker) restore(ctx context.Context, entries []priorEntry) {
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		var err error
		if entry.existed {
			err = b.vault.Put(ctx, entry.name, entry.value)
		} else {
			err = b.vault.Delete(ctx, entry.name)
		}
		metrics.RecordVaultOperation("restore", err)
		if err != nil {
			b.logger.WithContext(ctx).WithError(err).Errorf("Failed to restore vault entry %s", entry.name)
		}
	}
}

type secret struct {
	purpose vault.Purpose
	value   string
}

// StoreCredentials writes every non-empty secret to the vault and marks the
// integration as vaulted. Either all secrets are stored and the marker is set,
// or nothing observable changes.
func (b *Broker) StoreCredentials(ctx context.Context, integrationID, apiKey, webhookSecret string) (resp *Response, err error) {
	ctx, span := tracing.StartSpan(ctx, "Broker.StoreCredentials")
	defer span.End()
	span.SetAttributes(attribute.String("integration_id", integrationID))

	start := time.Now()
	defer func() {
		b.finish(span, ActionStore, start, err)
	}()

	if err := b.resolveRole(ctx); err != nil {
		return nil, err
	}
	if integrationID == "" {
		return nil, newError(CategoryInvalidRequest, "integrationId is required", nil)
	}

	secrets := make([]secret, 0, len(vault.Purposes))
	if apiKey != "" {
		secrets = append(secrets, secret{purpose: vault.PurposeAPIKey, value: apiKey})
	}
	if webhookSecret != "" {
		secrets = append(secrets, secret{purpose: vault.PurposeWebhookSecret, value: webhookSecret})
	}
	if len(secrets) == 0 {
		return nil, newError(CategoryInvalidRequest, "At least one credential is required", nil)
	}

	release, err := b.lock(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	defer b.unlock(ctx, integrationID, release)

	txCtx, tx, err := b.db.GetTx(ctx, nil)
	if err != nil {
		return nil, newError(CategoryInternal, "internal error", err)
	}
	defer tx.Rollback(ctx)

	if err := b.loadForUpdate(txCtx, integrationID); err != nil {
		return nil, err
	}

	written := make([]priorEntry, 0, len(secrets))
	stored := make([]string, 0, len(secrets))
	for _, s := range secrets {
		name := vault.SecretName(integrationID, s.purpose)
		prior, err := b.snapshot(txCtx, name)
		if err != nil {
			metrics.RecordVaultOperation("get", err)
			return nil, b.abortStore(ctx, tx, written, err, "Failed to read vault entry %s", name)
		}

		err = b.vault.Put(txCtx, name, s.value)
		metrics.RecordVaultOperation("put", err)
		if err != nil {
			return nil, b.abortStore(ctx, tx, written, err, "Failed to write vault entry %s", name)
		}
		written = append(written, prior)
		stored = append(stored, string(s.purpose))
	}

	if err := b.integrations.MarkCredentialsInVault(txCtx, integrationID); err != nil {
		b.logger.WithContext(ctx).WithError(err).Errorf("Failed to mark integration %s as vaulted", integrationID)
		_ = tx.Rollback(ctx)
		b.restore(ctx, written)
		return nil, newError(CategoryInternal, "internal error", err)
	}

	if err := tx.Commit(txCtx); err != nil {
		b.logger.WithContext(ctx).WithError(err).Errorf("Failed to commit credentials for integration %s", integrationID)
		b.restore(ctx, written)
		return nil, newError(CategoryInternal, "internal error", err)
	}

	b.logger.WithContext(ctx).Infof("Stored %d credential(s) for integration %s", len(stored), integrationID)
	b.publish(ctx, kafka.EventCredentialsStored, integrationID, stored)

	return &Response{Success: true, Message: MessageStored}, nil
}

func (b *Broker) abortStore(ctx context.Context, tx database.Tx, written []priorEntry, cause error, format string, args ...any) error {
	b.logger.WithContext(ctx).WithError(cause).Errorf(format, args...)
	_ = tx.Rollback(ctx)
	b.restore(ctx, written)
	return newError(CategoryVaultWriteFailed, "Failed to store credentials", cause)
}

// DeleteCredentials removes the integration row and its vault entries
// together. A vault failure leaves the row and the entries in place.
func (b *Broker) DeleteCredentials(ctx context.Context, integrationID string) (resp *Response, err error) {
	ctx, span := tracing.StartSpan(ctx, "Broker.DeleteCredentials")
	defer span.End()
	span.SetAttributes(attribute.String("integration_id", integrationID))

	start := time.Now()
	defer func() {
		b.finish(span, ActionDelete, start, err)
	}()

	if err := b.resolveRole(ctx); err != nil {
		return nil, err
	}
	if integrationID == "" {
		return nil, newError(CategoryInvalidRequest, "integrationId is required", nil)
	}

	release, err := b.lock(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	defer b.unlock(ctx, integrationID, release)

	txCtx, tx, err := b.db.GetTx(ctx, nil)
	if err != nil {
		return nil, newError(CategoryInternal, "internal error", err)
	}
	defer tx.Rollback(ctx)

	err = b.integrations.Delete(txCtx, integrationID)
	if repositories.IsNotFound(err) {
		return nil, newError(CategoryIntegrationNotFound, "Integration not found", err)
	}
	if err != nil {
		b.logger.WithContext(ctx).WithError(err).Errorf("Failed to delete integration %s", integrationID)
		return nil, newError(CategoryInternal, "internal error", err)
	}

	removed := make([]priorEntry, 0, len(vault.Purposes))
	names := make([]string, 0, len(vault.Purposes))
	for _, purpose := range vault.Purposes {
		name := vault.SecretName(integrationID, purpose)
		prior, err := b.snapshot(txCtx, name)
		if err != nil {
			metrics.RecordVaultOperation("get", err)
			return nil, b.abortDelete(ctx, tx, removed, err, name)
		}

		err = b.vault.Delete(txCtx, name)
		metrics.RecordVaultOperation("delete", err)
		if err != nil {
			return nil, b.abortDelete(ctx, tx, removed, err, name)
		}
		if prior.existed {
			removed = append(removed, prior)
			names = append(names, string(purpose))
		}
	}

	if err := tx.Commit(txCtx); err != nil {
		b.logger.WithContext(ctx).WithError(err).Errorf("Failed to commit deletion of integration %s", integrationID)
		b.restore(ctx, removed)
		return nil, newError(CategoryInternal, "internal error", err)
	}

	b.logger.WithContext(ctx).Infof("Deleted integration %s and %d vault entries", integrationID, len(names))
	b.publish(ctx, kafka.EventCredentialsDeleted, integrationID, names)

	return &Response{Success: true, Message: MessageDeleted}, nil
}

func (b *Broker) abortDelete(ctx context.Context, tx database.Tx, removed []priorEntry, cause error, name string) error {
	b.logger.WithContext(ctx).WithError(cause).Errorf("Failed to delete vault entry %s", name)
	_ = tx.Rollback(ctx)
	b.restore(ctx, removed)
	return newError(CategoryVaultWriteFailed, "Failed to delete credentials", cause)
}

func (b *Broker) publish(ctx context.Context, eventType, integrationID string, secrets []string) {
	evt := &kafka.AuditEvent{
		Type:          eventType,
		IntegrationID: integrationID,
		ActorID:       appctx.GetUserID(ctx),
		Secrets:       secrets,
	}
	if err := b.publisher.PublishAudit(ctx, evt); err != nil {
		b.logger.WithContext(ctx).WithError(err).Warnf("Failed to publish %s for integration %s", eventType, integrationID)
	}
}

func (b *Broker) finish(span trace.Span, action string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(CategoryOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	} else {
		span.SetStatus(codes.Ok, action)
	}
	metrics.RecordBrokerOperation(action, outcome, time.Since(start).Seconds())
}
