package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// handleHealth probes the database and the LLM provider. A failing provider
// degrades the response but keeps the service up: fetching works without it.
func (h *Handler) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()

	resp := healthResponse{Status: "ok", Checks: map[string]string{}}

	if err := h.db.Ping(ctx); err != nil {
		h.logger.ErrorContext(ctx, "database health check failed", "error", err)
		resp.Status = "unhealthy"
		resp.Checks["database"] = err.Error()
	} else {
		resp.Checks["database"] = "ok"
	}

	if err := h.provider.CheckHealth(ctx); err != nil {
		h.logger.WarnContext(ctx, "llm provider health check failed", "error", err)
		if resp.Status == "ok" {
			resp.Status = "degraded"
		}
		resp.Checks["llm_provider"] = err.Error()
	} else {
		resp.Checks["llm_provider"] = "ok"
	}

	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}
