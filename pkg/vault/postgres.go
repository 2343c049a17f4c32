package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const secretsTable = "vault.secrets"

// PostgresVault keeps entries in vault.secrets encrypted with pgcrypto. It writes
// through the transaction on ctx when one is open, so entries commit or roll
// back together with the integration row.
type PostgresVault struct {
	db     database.DB
	key    string
	logger ectologger.Logger
}

func NewPostgresVault(db database.DB, encryptionKey string, logger ectologger.Logger) *PostgresVault {
	return &PostgresVault{db: db, key: encryptionKey, logger: logger}
}

func (v *PostgresVault) Put(ctx context.Context, name, value string) error {
	ctx, span := tracing.StartSpan(ctx, "PostgresVault.Put")
	defer span.End()

	ib := database.NewInsertBuilder()
	encrypted := database.Expr("pgp_sym_encrypt(%v, %v)", value, v.key)
	ib.InsertInto(secretsTable).
		Cols("name", "secret", "created_at", "updated_at").
		Values(name, encrypted, database.Now(), database.Now())
	ub := ib.OnConflict("name")
	ub.Set(
		ub.Assign("secret", database.Excluded("secret")),
		ub.Assign("updated_at", database.Now()),
	)

	query, args := ib.Build()
	if _, err := v.db.ExecutorFor(ctx).ExecContext(ctx, query, args...); err != nil {
		v.logger.WithContext(ctx).WithError(err).WithField("name", name).Error("failed to write vault entry")
		return fmt.Errorf("failed to write vault entry %s", name)
	}
	return nil
}

func (v *PostgresVault) Get(ctx context.Context, name string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "PostgresVault.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(fmt.Sprintf("pgp_sym_decrypt(secret, %s)", sb.Var(v.key))).
		From(secretsTable).
		Where(sb.Equal("name", name))

	query, args := sb.Build()
	var value string
	err := v.db.ExecutorFor(ctx).GetContext(ctx, &value, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		v.logger.WithContext(ctx).WithError(err).WithField("name", name).Error("failed to read vault entry")
		return "", fmt.Errorf("failed to read vault entry %s", name)
	}
	return value, nil
}

func (v *PostgresVault) Delete(ctx context.Context, name string) error {
	ctx, span := tracing.StartSpan(ctx, "PostgresVault.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(secretsTable).Where(db.Equal("name", name))

	query, args := db.Build()
	if _, err := v.db.ExecutorFor(ctx).ExecContext(ctx, query, args...); err != nil {
		v.logger.WithContext(ctx).WithError(err).WithField("name", name).Error("failed to delete vault entry")
		return fmt.Errorf("failed to delete vault entry %s", name)
	}
	return nil
}

func (v *PostgresVault) Exists(ctx context.Context, name string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "PostgresVault.Exists")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)").From(secretsTable).Where(sb.Equal("name", name))

	query, args := sb.Build()
	var count int
	if err := v.db.ExecutorFor(ctx).GetContext(ctx, &count, query, args...); err != nil {
		v.logger.WithContext(ctx).WithError(err).WithField("name", name).Error("failed to check vault entry")
		return false, fmt.Errorf("failed to check vault entry %s", name)
	}
	return count > 0, nil
}
