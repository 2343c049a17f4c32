package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/thistle/pkg/context"
)

// Context seeds the request context with request metadata. The caller identity is
// added later by Authentication; it is never read from headers here.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			c.SetRequest(req.WithContext(context.SetRequestID(req.Context(), requestID)))

			return next(c)
		}
	}
}
