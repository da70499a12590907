// ABOUTME: This file wires the admin REST API onto echo
// ABOUTME: Routes for feeds, analysis runs, feature flags, and health
package handler

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"newswatch/config"
	"newswatch/featureflag"
	"newswatch/llm"
	"newswatch/repository"
	"newswatch/runmanager"
	"newswatch/scheduler"
)

// DBPinger is the liveness probe surface of the database pool.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// Handler carries the dependencies of every route. Handlers stay thin:
// validate, delegate, map errors.
type Handler struct {
	feeds     repository.FeedRepository
	health    repository.FeedHealthRepository
	items     repository.ItemRepository
	analyses  repository.ItemAnalysisRepository
	runs      repository.AnalysisRunRepository
	scheduler *scheduler.Scheduler
	manager   *runmanager.Manager
	flags     *featureflag.Registry
	provider  llm.Provider
	db        DBPinger
	cfg       *config.Config
	logger    *slog.Logger
}

// NewHandler creates the admin API handler set.
func NewHandler(
	feeds repository.FeedRepository,
	health repository.FeedHealthRepository,
	items repository.ItemRepository,
	analyses repository.ItemAnalysisRepository,
	runs repository.AnalysisRunRepository,
	sched *scheduler.Scheduler,
	manager *runmanager.Manager,
	flags *featureflag.Registry,
	provider llm.Provider,
	db DBPinger,
	cfg *config.Config,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		feeds:     feeds,
		health:    health,
		items:     items,
		analyses:  analyses,
		runs:      runs,
		scheduler: sched,
		manager:   manager,
		flags:     flags,
		provider:  provider,
		db:        db,
		cfg:       cfg,
		logger:    logger,
	}
}

// NewEcho builds the echo instance with the middleware stack and all routes
// registered.
func (h *Handler) NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: h.cfg.Server.WriteTimeout,
	}))
	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
	}))

	h.RegisterRoutes(e)
	return e
}

// RegisterRoutes attaches every route group to the echo instance.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	v1 := e.Group("/v1")

	v1.GET("/health", h.handleHealth)

	feeds := v1.Group("/feeds")
	feeds.POST("", h.handleRegisterFeed)
	feeds.GET("", h.handleListFeeds)
	feeds.GET("/:id", h.handleGetFeed)
	feeds.DELETE("/:id", h.handleDeleteFeed)
	feeds.PATCH("/:id/status", h.handleUpdateFeedStatus)
	feeds.POST("/:id/fetch", h.handleManualFetch)
	feeds.GET("/:id/health", h.handleFeedHealth)

	analysis := v1.Group("/analysis")
	analysis.POST("/preview", h.handlePreviewRun)
	analysis.GET("/runs", h.handleListRuns)
	analysis.GET("/runs/:id", h.handleGetRun)
	analysis.POST("/runs/:id/confirm", h.handleConfirmRun)
	analysis.POST("/runs/:id/pause", h.handlePauseRun)
	analysis.POST("/runs/:id/resume", h.handleResumeRun)
	analysis.POST("/runs/:id/cancel", h.handleCancelRun)
	analysis.POST("/emergency-stop", h.handleEmergencyStop)
	analysis.POST("/resume-all", h.handleResumeAll)

	v1.GET("/items/:id", h.handleGetItem)
	v1.GET("/items/:id/analysis", h.handleGetItemAnalysis)

	flags := v1.Group("/flags")
	flags.GET("", h.handleListFlags)
	flags.PUT("/:name", h.handleSetFlag)
}
