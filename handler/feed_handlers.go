package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"newswatch/domain"
)

// defaultFetchIntervalMin applies when registration omits the interval.
const defaultFetchIntervalMin = 60

type registerFeedRequest struct {
	URL                string  `json:"url"`
	Title              string  `json:"title"`
	FetchIntervalMin   int     `json:"fetch_interval_minutes"`
	AutoAnalyzeEnabled bool    `json:"auto_analyze_enabled"`
	SourceRef          *string `json:"source_ref"`
	TypeRef            *string `json:"type_ref"`
	HTTPTimeoutSeconds *int    `json:"http_timeout_seconds"`
}

type updateFeedStatusRequest struct {
	Status domain.FeedStatus `json:"status"`
}

type manualFetchResponse struct {
	FeedID       int64  `json:"feed_id"`
	Status       string `json:"status"`
	ItemsFound   int    `json:"items_found"`
	ItemsNew     int    `json:"items_new"`
	ItemsDropped int    `json:"items_dropped"`
	Error        string `json:"error,omitempty"`
}

func (h *Handler) handleRegisterFeed(c echo.Context) error {
	var req registerFeedRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "malformed request body")
	}

	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return badRequest(c, "url must be an absolute http or https URL")
	}
	if req.FetchIntervalMin < 0 {
		return badRequest(c, "fetch_interval_minutes must not be negative")
	}
	if req.FetchIntervalMin == 0 {
		req.FetchIntervalMin = defaultFetchIntervalMin
	}

	feed := &domain.Feed{
		URL:                 req.URL,
		Title:               req.Title,
		Status:              domain.FeedStatusActive,
		FetchIntervalMin:    req.FetchIntervalMin,
		NextFetchAt:         time.Now(),
		AutoAnalyzeEnabled:  req.AutoAnalyzeEnabled,
		SourceRef:           req.SourceRef,
		TypeRef:             req.TypeRef,
		HTTPTimeoutOverride: req.HTTPTimeoutSeconds,
	}

	id, err := h.feeds.Create(c.Request().Context(), feed)
	if err != nil {
		return h.mapError(c, err, "register_feed")
	}
	feed.ID = id

	h.logger.InfoContext(c.Request().Context(), "feed registered", "feed_id", id, "url", feed.URL)
	return c.JSON(http.StatusCreated, feed)
}

func (h *Handler) handleListFeeds(c echo.Context) error {
	feeds, err := h.feeds.List(c.Request().Context())
	if err != nil {
		return h.mapError(c, err, "list_feeds")
	}
	return c.JSON(http.StatusOK, feeds)
}

func (h *Handler) handleGetFeed(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid feed id")
	}

	feed, err := h.feeds.GetByID(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err, "get_feed")
	}
	return c.JSON(http.StatusOK, feed)
}

// handleDeleteFeed removes the feed. Items, logs, health, and pending jobs
// go with it through the cascading foreign keys.
func (h *Handler) handleDeleteFeed(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid feed id")
	}

	if err := h.feeds.Delete(c.Request().Context(), id); err != nil {
		return h.mapError(c, err, "delete_feed")
	}

	h.logger.InfoContext(c.Request().Context(), "feed deleted", "feed_id", id)
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) handleUpdateFeedStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid feed id")
	}

	var req updateFeedStatusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "malformed request body")
	}
	switch req.Status {
	case domain.FeedStatusActive, domain.FeedStatusInactive:
	default:
		return badRequest(c, "status must be active or inactive")
	}

	if _, err := h.feeds.GetByID(c.Request().Context(), id); err != nil {
		return h.mapError(c, err, "update_feed_status")
	}
	if err := h.feeds.UpdateStatus(c.Request().Context(), id, req.Status); err != nil {
		return h.mapError(c, err, "update_feed_status")
	}

	h.logger.InfoContext(c.Request().Context(), "feed status updated", "feed_id", id, "status", req.Status)
	return c.NoContent(http.StatusNoContent)
}

// handleManualFetch runs one fetch attempt immediately, outside the
// schedule. The response reports the attempt outcome either way.
func (h *Handler) handleManualFetch(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid feed id")
	}

	result, err := h.scheduler.ManualFetch(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err, "manual_fetch")
	}

	resp := manualFetchResponse{
		FeedID:       id,
		Status:       string(result.Status),
		ItemsFound:   result.ItemsFound,
		ItemsNew:     result.ItemsNew,
		ItemsDropped: result.ItemsDropped,
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleFeedHealth(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, "invalid feed id")
	}

	health, err := h.health.Get(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err, "get_feed_health")
	}
	return c.JSON(http.StatusOK, health)
}

func pathID(c echo.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}
