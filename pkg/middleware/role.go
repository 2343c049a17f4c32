package middleware

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/thistle/pkg/context"
	"github.com/Ramsey-B/thistle/pkg/models"
)

// RoleResolver looks up the stored role of a user. It returns models.RoleNone
// when the user has no profile.
type RoleResolver interface {
	GetRoleByUserID(ctx context.Context, userID string) (models.Role, error)
}

// RequireRole resolves the caller's role from the profile store on every request
// and rejects callers whose role is not in allowed.
func RequireRole(logger ectologger.Logger, resolver RoleResolver, allowed ...models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			userID := appctx.GetUserID(ctx)
			if userID == "" {
				return httperror.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}

			role, err := resolver.GetRoleByUserID(ctx, userID)
			if err != nil {
				logger.WithContext(ctx).WithError(err).Error("failed to resolve caller role")
				return httperror.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
			}

			for _, r := range allowed {
				if role == r {
					ctx = appctx.SetRole(ctx, string(role))
					c.SetRequest(c.Request().WithContext(ctx))
					return next(c)
				}
			}

			logger.WithContext(ctx).WithField("role", string(role)).Warn("caller role is not permitted")
			return httperror.NewHTTPError(http.StatusForbidden, "insufficient permissions")
		}
	}
}
