package handlers

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/thistle/internal/services/integration"
	"github.com/Ramsey-B/thistle/pkg/broker"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/utils"
)

// IntegrationService is the integration workflow behind the handlers
type IntegrationService interface {
	Create(ctx context.Context, input integration.CreateInput) (models.Integration, error)
	Get(ctx context.Context, id string) (models.Integration, error)
	List(ctx context.Context) ([]models.Integration, error)
	Update(ctx context.Context, input integration.UpdateInput) (models.Integration, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Delete(ctx context.Context, id string) (*broker.Response, error)
}

// IntegrationHandler handles integration-related API requests
type IntegrationHandler struct {
	service IntegrationService
}

// NewIntegrationHandler creates a new integration handler
func NewIntegrationHandler(service IntegrationService) *IntegrationHandler {
	return &IntegrationHandler{service: service}
}

// RegisterRoutes registers the integration routes. editors guards reads and
// metadata edits; admins guards create and delete.
func (h *IntegrationHandler) RegisterRoutes(g *echo.Group, editors, admins echo.MiddlewareFunc) {
	integrations := g.Group("/integrations")
	integrations.POST("", h.Create, admins)
	integrations.GET("", h.List, editors)
	integrations.GET("/:id", h.Get, editors)
	integrations.PUT("/:id", h.Update, editors)
	integrations.POST("/:id/enable", h.Enable, editors)
	integrations.POST("/:id/disable", h.Disable, editors)
	integrations.DELETE("/:id", h.Delete, admins)
}

// Create handles POST /integrations
func (h *IntegrationHandler) Create(c echo.Context) error {
	input, err := utils.BindRequest[integration.CreateInput](c)
	if err != nil {
		return err
	}

	created, err := h.service.Create(c.Request().Context(), input)
	if err != nil {
		return err
	}

	return CreatedResponse(c, created)
}

// List handles GET /integrations
func (h *IntegrationHandler) List(c echo.Context) error {
	integrations, err := h.service.List(c.Request().Context())
	if err != nil {
		return err
	}

	return SuccessResponse(c, integrations)
}

// Get handles GET /integrations/:id
func (h *IntegrationHandler) Get(c echo.Context) error {
	id, err := PathParam(c, "id")
	if err != nil {
		return err
	}

	found, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, found)
}

// Update handles PUT /integrations/:id
func (h *IntegrationHandler) Update(c echo.Context) error {
	input, err := utils.BindRequest[integration.UpdateInput](c)
	if err != nil {
		return err
	}

	updated, err := h.service.Update(c.Request().Context(), input)
	if err != nil {
		return err
	}

	return SuccessResponse(c, updated)
}

// Enable handles POST /integrations/:id/enable
func (h *IntegrationHandler) Enable(c echo.Context) error {
	return h.setEnabled(c, true)
}

// Disable handles POST /integrations/:id/disable
func (h *IntegrationHandler) Disable(c echo.Context) error {
	return h.setEnabled(c, false)
}

func (h *IntegrationHandler) setEnabled(c echo.Context, enabled bool) error {
	id, err := PathParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.service.SetEnabled(c.Request().Context(), id, enabled); err != nil {
		return err
	}

	return SuccessResponse(c, map[string]any{"id": id, "enabled": enabled})
}

// Delete handles DELETE /integrations/:id through the credential broker
func (h *IntegrationHandler) Delete(c echo.Context) error {
	id, err := PathParam(c, "id")
	if err != nil {
		return err
	}

	resp, err := h.service.Delete(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, resp)
}
