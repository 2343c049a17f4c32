package broker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/pkg/broker"
	appctx "github.com/Ramsey-B/thistle/pkg/context"
	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/logging"
	"github.com/Ramsey-B/thistle/pkg/repositories"
	"github.com/Ramsey-B/thistle/pkg/vault"
)

const (
	pgIntegrationID = "6f1c2a4e-0b7d-4c2e-9a51-3d8e7f60a1b2"
	pgVaultKey      = "vault-key"
)

// newPostgresBroker wires the broker to the real repositories and the
// pgcrypto vault over one sqlmock connection.
func newPostgresBroker(t *testing.T) (*broker.Broker, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = conn.Close()
	})

	logger := logging.Nop()
	db := database.NewDatabaseInstance(sqlx.NewDb(conn, "postgres"), logger)
	b := broker.NewBroker(
		db,
		repositories.NewIntegrationRepository(db, logger),
		repositories.NewProfileRepository(db, logger),
		vault.NewPostgresVault(db, pgVaultKey, logger),
		nil,
		nil,
		logger,
	)
	return b, mock
}

func expectAdminAndLockedRow(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT role FROM profiles WHERE user_id = \$1`).
		WithArgs(adminID).
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("admin"))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM integrations WHERE id = \$1 FOR UPDATE`).
		WithArgs(pgIntegrationID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "type", "enabled", "credentials_in_vault"}).
			AddRow(pgIntegrationID, "OpenAI", "openai", true, false))
}

func TestStoreCredentials_PostgresVault(t *testing.T) {
	b, mock := newPostgresBroker(t)
	name := vault.SecretName(pgIntegrationID, vault.PurposeAPIKey)

	expectAdminAndLockedRow(mock)
	mock.ExpectQuery(`SELECT pgp_sym_decrypt\(secret, \$1\) FROM vault.secrets WHERE name = \$2`).
		WithArgs(pgVaultKey, name).
		WillReturnRows(sqlmock.NewRows([]string{"pgp_sym_decrypt"}))
	mock.ExpectExec(`INSERT INTO vault.secrets \(name, secret, created_at, updated_at\) VALUES \(\$1, pgp_sym_encrypt\(\$2, \$3\), NOW\(\), NOW\(\)\)`).
		WithArgs(name, "sk-test-123", pgVaultKey).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE integrations SET credentials_in_vault = \$1, api_key = \$2, webhook_secret = \$3`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := appctx.SetUserID(context.Background(), adminID)
	resp, err := b.StoreCredentials(ctx, pgIntegrationID, "sk-test-123", "")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, broker.MessageStored, resp.Message)
}

func TestStoreCredentials_PostgresVaultWriteFailureRollsBack(t *testing.T) {
	b, mock := newPostgresBroker(t)
	name := vault.SecretName(pgIntegrationID, vault.PurposeAPIKey)

	expectAdminAndLockedRow(mock)
	mock.ExpectQuery(`SELECT pgp_sym_decrypt`).
		WithArgs(pgVaultKey, name).
		WillReturnRows(sqlmock.NewRows([]string{"pgp_sym_decrypt"}))
	mock.ExpectExec(`INSERT INTO vault.secrets`).
		WithArgs(name, "sk-test-123", pgVaultKey).
		WillReturnError(errors.New("pgcrypto unavailable"))
	mock.ExpectRollback()

	ctx := appctx.SetUserID(context.Background(), adminID)
	_, err := b.StoreCredentials(ctx, pgIntegrationID, "sk-test-123", "")
	require.Error(t, err)
	assert.True(t, broker.IsCategory(err, broker.CategoryVaultWriteFailed))
	assert.NotContains(t, err.Error(), "sk-test-123")
	assert.NotContains(t, err.Error(), pgVaultKey)
}
