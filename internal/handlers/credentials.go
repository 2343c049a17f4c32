package handlers

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/thistle/pkg/broker"
	"github.com/Ramsey-B/thistle/pkg/utils"
)

// CredentialBroker handles store and delete requests
type CredentialBroker interface {
	Handle(ctx context.Context, req broker.Request) (*broker.Response, error)
}

// CredentialHandler exposes the broker over HTTP
type CredentialHandler struct {
	broker CredentialBroker
}

func NewCredentialHandler(b CredentialBroker) *CredentialHandler {
	return &CredentialHandler{broker: b}
}

// RegisterRoutes registers POST /credentials. The broker does its own admin
// check, so only authentication and rate limiting belong in mw.
func (h *CredentialHandler) RegisterRoutes(g *echo.Group, mw ...echo.MiddlewareFunc) {
	g.POST("/credentials", h.Handle, mw...)
}

// Handle handles POST /credentials
func (h *CredentialHandler) Handle(c echo.Context) error {
	req, err := utils.BindRequest[broker.Request](c)
	if err != nil {
		return err
	}

	resp, err := h.broker.Handle(c.Request().Context(), req)
	if err != nil {
		return err
	}

	return SuccessResponse(c, resp)
}
