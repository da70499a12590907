package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"newswatch/domain"
)

// errorResponse is the uniform error body of the admin API.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// mapError converts a domain error into the matching HTTP response and logs
// it with the failing operation.
func (h *Handler) mapError(c echo.Context, err error, operation string) error {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrFeedNotFound),
		errors.Is(err, domain.ErrRunNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, domain.ErrFeedAlreadyExists), errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
		code = "conflict"
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
		code = "invalid_transition"
	case errors.Is(err, domain.ErrCapacityExceeded):
		status = http.StatusTooManyRequests
		code = "capacity_exceeded"
	case errors.Is(err, domain.ErrEmergencyStopped):
		status = http.StatusServiceUnavailable
		code = "emergency_stopped"
	case errors.Is(err, domain.ErrFeedNotFetchable):
		status = http.StatusConflict
		code = "feed_not_fetchable"
	case errors.Is(err, domain.ErrProviderUnavailable), errors.Is(err, domain.ErrAnalysisUnavailable):
		status = http.StatusServiceUnavailable
		code = "provider_unavailable"
	}

	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request().Context(), "request failed",
			"operation", operation,
			"path", c.Request().URL.Path,
			"method", c.Request().Method,
			"error", err)
	} else {
		h.logger.WarnContext(c.Request().Context(), "request rejected",
			"operation", operation,
			"path", c.Request().URL.Path,
			"status", status,
			"error", err)
	}

	return c.JSON(status, errorResponse{Error: err.Error(), Code: code})
}

// badRequest responds 400 with a validation message.
func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: message, Code: "invalid_request"})
}
