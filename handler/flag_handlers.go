package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"newswatch/domain"
)

type setFlagRequest struct {
	Status            domain.FlagStatus `json:"status"`
	RolloutPercentage int               `json:"rollout_percentage"`
}

func (h *Handler) handleListFlags(c echo.Context) error {
	return c.JSON(http.StatusOK, h.flags.Snapshot())
}

// handleSetFlag sets a flag's administrative state. Setting a flag out of
// emergency_off resets its breaker window.
func (h *Handler) handleSetFlag(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return badRequest(c, "flag name is required")
	}

	var req setFlagRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "malformed request body")
	}
	switch req.Status {
	case domain.FlagOff, domain.FlagCanary, domain.FlagOn, domain.FlagEmergencyOff:
	default:
		return badRequest(c, "status must be one of off, canary, on, emergency_off")
	}
	if req.RolloutPercentage < 0 || req.RolloutPercentage > 100 {
		return badRequest(c, "rollout_percentage must be between 0 and 100")
	}

	if err := h.flags.SetStatus(c.Request().Context(), name, req.Status, req.RolloutPercentage); err != nil {
		return h.mapError(c, err, "set_flag")
	}

	h.logger.InfoContext(c.Request().Context(), "feature flag updated",
		"flag", name, "status", req.Status, "rollout", req.RolloutPercentage)
	return c.JSON(http.StatusOK, domain.FeatureFlag{
		Name:              name,
		Status:            req.Status,
		RolloutPercentage: req.RolloutPercentage,
	})
}
