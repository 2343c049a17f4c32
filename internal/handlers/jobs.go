package handlers

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/thistle/pkg/repositories"
)

// JobHandler lists AI jobs created by webhooks
type JobHandler struct {
	jobs repositories.JobRepo
}

func NewJobHandler(jobs repositories.JobRepo) *JobHandler {
	return &JobHandler{jobs: jobs}
}

func (h *JobHandler) RegisterRoutes(g *echo.Group, editors echo.MiddlewareFunc) {
	g.GET("/jobs", h.List, editors)
}

// List handles GET /jobs?limit=n
func (h *JobHandler) List(c echo.Context) error {
	limit := repositories.DefaultJobListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return BadRequest("limit must be a number")
		}
		limit = parsed
	}

	jobs, err := h.jobs.ListRecent(c.Request().Context(), limit)
	if err != nil {
		return err
	}

	return SuccessResponse(c, jobs)
}
