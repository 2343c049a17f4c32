package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const profilesTable = "profiles"

// ProfileRepository reads caller roles
type ProfileRepository struct {
	*Repository
}

func NewProfileRepository(db database.DB, logger ectologger.Logger) *ProfileRepository {
	return &ProfileRepository{
		Repository: NewRepository(db, logger),
	}
}

// GetRoleByUserID returns the stored role of userID, or models.RoleNone when the
// user has no profile. It always reads through to the database.
func (r *ProfileRepository) GetRoleByUserID(ctx context.Context, userID string) (models.Role, error) {
	ctx, span := tracing.StartSpan(ctx, "ProfileRepository.GetRoleByUserID")
	defer span.End()

	if userID == "" {
		return models.RoleNone, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select("role").From(profilesTable).Where(sb.Equal("user_id", userID))

	query, args := sb.Build()
	var role string
	err := r.Exec(ctx).GetContext(ctx, &role, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RoleNone, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("user_id", userID).Error("failed to get profile role")
		return models.RoleNone, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get profile role")
	}

	return models.Role(role), nil
}
