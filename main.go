// ABOUTME: This file is the newswatch entrypoint
// ABOUTME: Wires config, storage, pipelines, run manager, workers, and the admin API
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"newswatch/bridge"
	"newswatch/config"
	"newswatch/domain"
	"newswatch/events"
	"newswatch/featureflag"
	"newswatch/fetcher"
	"newswatch/handler"
	"newswatch/llm"
	"newswatch/metrics"
	"newswatch/processor"
	"newswatch/repository"
	"newswatch/retry"
	"newswatch/runmanager"
	"newswatch/scheduler"
	"newswatch/utils/logger"
	"newswatch/workerpool"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "newswatch failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	contextLogger := logger.NewContextLogger(&logger.LoggerConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: "newswatch",
		EnableOTel:  cfg.Logging.EnableOTel,
	})
	log := contextLogger.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPool(ctx, &cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	bus := events.NewBus(log)

	m := metrics.New()
	m.Subscribe(bus)
	metricsServer := metrics.NewServer(cfg.Metrics, m, log)

	feeds := repository.NewFeedRepository(pool, log)
	items := repository.NewItemRepository(pool, log)
	fetchLogs := repository.NewFetchLogRepository(pool, log)
	feedHealth := repository.NewFeedHealthRepository(pool, log)
	runs := repository.NewAnalysisRunRepository(pool, log)
	runItems := repository.NewRunItemRepository(pool, log)
	analyses := repository.NewItemAnalysisRepository(pool, log)
	pendingJobs := repository.NewPendingJobRepository(pool, log)
	flagStore := repository.NewFeatureFlagRepository(pool, log)

	flags := featureflag.NewRegistry(cfg.FeatureFlags, flagStore, bus, log)
	if err := flags.Load(ctx); err != nil {
		return fmt.Errorf("load feature flags: %w", err)
	}

	storeRetrier := retry.NewRetrier(retry.Config{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     cfg.Retry.BaseDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		BackoffFactor: cfg.Retry.BackoffFactor,
		JitterFactor:  cfg.Retry.JitterFactor,
	}, domain.IsRetryableStore, log)

	feedClient := fetcher.NewFeedClient(cfg.HTTP, log)
	hostLimiter := fetcher.NewHostRateLimiter(cfg.HTTP.HostRateInterval)
	pipeline := fetcher.NewPipeline(items, fetchLogs, feedHealth, feedClient, hostLimiter, bus, storeRetrier, m, log)
	sched := scheduler.NewScheduler(feeds, pipeline, cfg.Scheduler, log)

	manager := runmanager.NewManager(runs, runItems, items, cfg.Analysis, bus, log)
	if err := manager.Recover(ctx); err != nil {
		return fmt.Errorf("recover analysis runs: %w", err)
	}

	bridge.NewBridge(feeds, pendingJobs, cfg.AutoAnalysis, bus, log)
	proc := processor.NewProcessor(pendingJobs, feeds, manager, cfg.AutoAnalysis, cfg.Analysis.AutoModelTag, m, log)

	provider := llm.NewHTTPProvider(cfg.LLM, log)
	workers := workerpool.NewPool(manager, runs, runItems, items, analyses, provider, flags, cfg.Analysis, m, log)

	api := handler.NewHandler(feeds, feedHealth, items, analyses, runs, sched, manager, flags, provider, pool, cfg, log)
	e := api.NewEcho()

	metricsServer.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})
	g.Go(func() error {
		proc.Run(gctx)
		return nil
	})
	g.Go(func() error {
		workers.Run(gctx)
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		log.InfoContext(gctx, "admin API listening", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Error("admin API shutdown failed", "error", err)
		}
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			log.Error("metrics server shutdown failed", "error", err)
		}
		return nil
	})

	log.InfoContext(ctx, "newswatch started",
		"port", cfg.Server.Port,
		"max_concurrent_feeds", cfg.Scheduler.MaxConcurrentFeeds,
		"max_concurrent_runs", cfg.Analysis.MaxConcurrentRuns)

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("newswatch stopped")
	return nil
}
