package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"newswatch/domain"
)

type previewRunRequest struct {
	Scope  domain.RunScope  `json:"scope"`
	Params previewRunParams `json:"params"`
}

// previewRunParams mirrors domain.RunParams with an optional limit so that
// an omitted limit falls back to the configured batch size while an explicit
// zero stays zero.
type previewRunParams struct {
	ModelTag         string  `json:"model_tag"`
	RatePerSecond    float64 `json:"rate_per_second"`
	Limit            *int    `json:"limit"`
	OverrideExisting bool    `json:"override_existing"`
}

type runStatusResponse struct {
	RunID  int64            `json:"run_id"`
	Status domain.RunStatus `json:"status"`
}

func (h *Handler) handlePreviewRun(c echo.Context) error {
	var req previewRunRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "malformed request body")
	}
	if err := req.Scope.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	params := domain.RunParams{
		ModelTag:         req.Params.ModelTag,
		RatePerSecond:    req.Params.RatePerSecond,
		Limit:            -1,
		OverrideExisting: req.Params.OverrideExisting,
		TriggeredBy:      domain.TriggeredByManual,
	}
	if req.Params.Limit != nil {
		if *req.Params.Limit < 0 {
			return badRequest(c, "limit must not be negative")
		}
		params.Limit = *req.Params.Limit
	}

	preview, err := h.manager.Preview(c.Request().Context(), req.Scope, params)
	if err != nil {
		return h.mapError(c, err, "preview_run")
	}
	return c.JSON(http.StatusCreated, preview)
}

func (h *Handler) handleConfirmRun(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid run id")
	}

	status, err := h.manager.Confirm(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err, "confirm_run")
	}
	return c.JSON(http.StatusOK, runStatusResponse{RunID: id, Status: status})
}

func (h *Handler) handleGetRun(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid run id")
	}

	run, err := h.manager.Get(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err, "get_run")
	}
	return c.JSON(http.StatusOK, run)
}

// handleListRuns lists runs filtered by ?status=queued,running. Without a
// filter it returns every non-terminal run.
func (h *Handler) handleListRuns(c echo.Context) error {
	statuses := []domain.RunStatus{
		domain.RunStatusPending,
		domain.RunStatusQueued,
		domain.RunStatusRunning,
		domain.RunStatusPaused,
	}

	if raw := c.QueryParam("status"); raw != "" {
		statuses = statuses[:0]
		for _, part := range strings.Split(raw, ",") {
			status := domain.RunStatus(strings.TrimSpace(part))
			switch status {
			case domain.RunStatusPending, domain.RunStatusQueued, domain.RunStatusRunning,
				domain.RunStatusPaused, domain.RunStatusCompleted, domain.RunStatusFailed,
				domain.RunStatusCancelled:
				statuses = append(statuses, status)
			default:
				return badRequest(c, "unknown run status: "+string(status))
			}
		}
	}

	runs, err := h.runs.ListByStatus(c.Request().Context(), statuses...)
	if err != nil {
		return h.mapError(c, err, "list_runs")
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *Handler) handlePauseRun(c echo.Context) error {
	return h.runLifecycle(c, "pause_run", h.manager.Pause)
}

func (h *Handler) handleResumeRun(c echo.Context) error {
	return h.runLifecycle(c, "resume_run", h.manager.Resume)
}

func (h *Handler) handleCancelRun(c echo.Context) error {
	return h.runLifecycle(c, "cancel_run", h.manager.Cancel)
}

// runLifecycle factors the shared shape of pause/resume/cancel: parse the
// id, delegate, report the resulting state.
func (h *Handler) runLifecycle(c echo.Context, operation string, op func(ctx context.Context, runID int64) error) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid run id")
	}

	if err := op(c.Request().Context(), id); err != nil {
		return h.mapError(c, err, operation)
	}

	status, err := h.manager.RunState(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err, operation)
	}
	return c.JSON(http.StatusOK, runStatusResponse{RunID: id, Status: status})
}

func (h *Handler) handleEmergencyStop(c echo.Context) error {
	if err := h.manager.EmergencyStop(c.Request().Context()); err != nil {
		return h.mapError(c, err, "emergency_stop")
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) handleResumeAll(c echo.Context) error {
	if err := h.manager.ResumeAll(c.Request().Context()); err != nil {
		return h.mapError(c, err, "resume_all")
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) handleGetItem(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid item id")
	}

	item, err := h.items.GetByID(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err, "get_item")
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) handleGetItemAnalysis(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid item id")
	}

	analysis, err := h.analyses.Get(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err, "get_item_analysis")
	}
	return c.JSON(http.StatusOK, analysis)
}
