package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/thistle/pkg/context"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// HeaderUserID carries the caller identity when authentication is disabled.
const HeaderUserID = "X-User-ID"

var errMissingSubject = errors.New("token has no subject")

// TokenVerifier turns a bearer token into a verified caller identity.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (string, error)
}

type UserClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
}

// OIDCVerifier verifies ID tokens issued by an OpenID Connect provider.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (string, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return "", err
	}
	var claims UserClaims
	if err := idToken.Claims(&claims); err != nil {
		return "", err
	}
	if claims.Sub == "" {
		return "", errMissingSubject
	}
	return claims.Sub, nil
}

// JWTVerifier verifies HS256 access tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(_ context.Context, raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errMissingSubject
	}
	return claims.Subject, nil
}

func bearerToken(c echo.Context) (string, bool) {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	return raw, raw != ""
}

// Authentication verifies the bearer token and stores the caller identity on the
// request context. With a nil verifier the X-User-ID header is trusted instead,
// which is only meant for local testing.
func Authentication(logger ectologger.Logger, verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, span := tracing.StartSpan(c.Request().Context(), "middleware.Authentication")
			defer span.End()

			var userID string
			if verifier == nil {
				userID = strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
				if userID == "" {
					logger.WithContext(ctx).Warn("request is missing user header")
					return httperror.NewHTTPError(http.StatusUnauthorized, "authentication required")
				}
			} else {
				raw, ok := bearerToken(c)
				if !ok {
					logger.WithContext(ctx).Warn("request is missing bearer token")
					return httperror.NewHTTPError(http.StatusUnauthorized, "missing bearer")
				}

				verifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				sub, err := verifier.Verify(verifyCtx, raw)
				cancel()
				if err != nil {
					logger.WithContext(ctx).WithError(err).Warn("token is invalid")
					return httperror.NewHTTPError(http.StatusUnauthorized, "invalid token")
				}
				userID = sub
			}

			ctx = appctx.SetUserID(ctx, userID)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}
