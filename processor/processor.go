// ABOUTME: This file implements the periodic sweep converting pending jobs into runs
// ABOUTME: Expires stale jobs, re-checks caps, and backs off on CapacityExceeded
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"newswatch/config"
	"newswatch/domain"
	"newswatch/metrics"
	"newswatch/repository"
	"newswatch/runmanager"
)

// sweepBatchSize bounds how many pending jobs one sweep examines.
const sweepBatchSize = 100

// cappedStatuses mirrors the bridge's daily-cap accounting.
var cappedStatuses = []domain.PendingJobStatus{
	domain.PendingJobPending,
	domain.PendingJobProcessing,
	domain.PendingJobCompleted,
}

// Processor drains pending auto-analysis jobs into analysis runs.
type Processor struct {
	jobs     repository.PendingJobRepository
	feeds    repository.FeedRepository
	manager  *runmanager.Manager
	cfg      config.AutoAnalysisConfig
	modelTag string
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewProcessor creates the pending-analysis processor.
func NewProcessor(
	jobs repository.PendingJobRepository,
	feeds repository.FeedRepository,
	manager *runmanager.Manager,
	cfg config.AutoAnalysisConfig,
	autoModelTag string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		jobs:     jobs,
		feeds:    feeds,
		manager:  manager,
		cfg:      cfg,
		modelTag: autoModelTag,
		metrics:  m,
		logger:   logger,
	}
}

// Run sweeps until the context is cancelled.
func (p *Processor) Run(ctx context.Context) {
	p.logger.InfoContext(ctx, "pending analysis processor started", "tick", p.cfg.TickInterval)

	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "pending analysis processor stopping")
			return
		case <-ticker.C:
			if err := p.Sweep(ctx); err != nil {
				p.logger.ErrorContext(ctx, "pending job sweep failed", "error", err)
			}
		}
	}
}

// Sweep expires stale jobs, then converts pending jobs oldest-first. When the
// run manager reports exhausted capacity the sweep stops; the remaining jobs
// wait for the next tick.
func (p *Processor) Sweep(ctx context.Context) error {
	expired, err := p.jobs.ExpireOlderThan(ctx, time.Now().Add(-domain.PendingJobTTL))
	if err != nil {
		return fmt.Errorf("expire stale jobs: %w", err)
	}
	if expired > 0 {
		p.metrics.PendingJobs.WithLabelValues("expired").Add(float64(expired))
		p.logger.InfoContext(ctx, "expired stale pending jobs", "count", expired)
	}

	pending, err := p.jobs.ListPending(ctx, sweepBatchSize)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}

	for _, job := range pending {
		stop, err := p.processJob(ctx, job)
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to process pending job", "job_id", job.ID, "error", err)
		}
		if stop {
			return nil
		}
	}
	return nil
}

// processJob converts one pending job. The returned bool asks the sweep to
// stop because global capacity is exhausted.
func (p *Processor) processJob(ctx context.Context, job *domain.PendingAutoAnalysis) (bool, error) {
	feed, err := p.feeds.GetByID(ctx, job.FeedID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, p.markFailed(ctx, job.ID, "feed no longer exists")
		}
		return false, err
	}
	if !feed.AutoAnalyzeEnabled {
		return false, p.markFailed(ctx, job.ID, "auto analysis disabled for feed")
	}

	used, err := p.jobs.CountForFeedSince(ctx, job.FeedID, time.Now().Add(-24*time.Hour), cappedStatuses)
	if err != nil {
		return false, err
	}
	// The job itself is pending and counted, so strictly-over means the cap
	// was exceeded by later enqueues.
	if used > p.cfg.MaxDailyPerFeed {
		return false, p.markFailed(ctx, job.ID, "per-feed daily cap exceeded")
	}

	claimed, err := p.jobs.Transition(ctx, job.ID, domain.PendingJobPending, domain.PendingJobProcessing)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	runID, err := p.manager.CreateAutoRun(ctx, job.ItemIDs, p.modelTag)
	if err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) || errors.Is(err, domain.ErrEmergencyStopped) {
			if _, revertErr := p.jobs.Transition(ctx, job.ID, domain.PendingJobProcessing, domain.PendingJobPending); revertErr != nil {
				p.logger.ErrorContext(ctx, "failed to revert job after capacity rejection",
					"job_id", job.ID, "error", revertErr)
			}
			p.metrics.PendingJobs.WithLabelValues("reverted").Inc()
			p.logger.InfoContext(ctx, "analysis capacity exhausted, deferring remaining jobs",
				"job_id", job.ID, "reason", err)
			return true, nil
		}
		return false, p.markFailed(ctx, job.ID, err.Error())
	}

	if err := p.jobs.CompleteWithRun(ctx, job.ID, runID); err != nil {
		return false, err
	}
	p.metrics.PendingJobs.WithLabelValues("completed").Inc()

	p.logger.InfoContext(ctx, "pending job converted to analysis run",
		"job_id", job.ID, "run_id", runID, "feed_id", job.FeedID, "item_count", len(job.ItemIDs))
	return false, nil
}

func (p *Processor) markFailed(ctx context.Context, jobID int64, reason string) error {
	if err := p.jobs.MarkFailed(ctx, jobID, reason); err != nil {
		return err
	}
	p.metrics.PendingJobs.WithLabelValues("failed").Inc()
	return nil
}
