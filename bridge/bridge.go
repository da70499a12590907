// ABOUTME: This file translates feed fetch events into pending auto-analysis jobs
// ABOUTME: Applies the per-feed daily cap and batches new item ids per job
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"newswatch/config"
	"newswatch/domain"
	"newswatch/events"
	"newswatch/repository"
)

// cappedStatuses are the job states that count against the per-feed daily
// cap. Failed and expired jobs do not count, so a feed whose jobs keep
// failing is not locked out forever.
var cappedStatuses = []domain.PendingJobStatus{
	domain.PendingJobPending,
	domain.PendingJobProcessing,
	domain.PendingJobCompleted,
}

// Bridge subscribes to FeedFetched events and enqueues analysis work for
// feeds with auto-analysis enabled.
type Bridge struct {
	feeds  repository.FeedRepository
	jobs   repository.PendingJobRepository
	cfg    config.AutoAnalysisConfig
	logger *slog.Logger
}

// NewBridge creates the auto-analysis bridge and registers it on the bus.
func NewBridge(feeds repository.FeedRepository, jobs repository.PendingJobRepository, cfg config.AutoAnalysisConfig, bus *events.Bus, logger *slog.Logger) *Bridge {
	b := &Bridge{
		feeds:  feeds,
		jobs:   jobs,
		cfg:    cfg,
		logger: logger,
	}
	bus.SubscribeFeedFetched(b.HandleFeedFetched)
	return b
}

// HandleFeedFetched enqueues pending jobs for the new items of one fetch.
// The pipeline emits at most one event per fetch log row, so double delivery
// cannot happen and the bridge needs no dedup of its own.
func (b *Bridge) HandleFeedFetched(ctx context.Context, ev events.FeedFetched) error {
	if len(ev.NewItemIDs) == 0 {
		return nil
	}

	feed, err := b.feeds.GetByID(ctx, ev.FeedID)
	if err != nil {
		return fmt.Errorf("bridge: load feed %d: %w", ev.FeedID, err)
	}
	if !feed.AutoAnalyzeEnabled {
		b.logger.DebugContext(ctx, "auto analysis disabled, discarding event", "feed_id", ev.FeedID)
		return nil
	}

	since := time.Now().Add(-24 * time.Hour)
	used, err := b.jobs.CountForFeedSince(ctx, ev.FeedID, since, cappedStatuses)
	if err != nil {
		return fmt.Errorf("bridge: count daily jobs for feed %d: %w", ev.FeedID, err)
	}
	if used >= b.cfg.MaxDailyPerFeed {
		b.logger.WarnContext(ctx, "per-feed daily auto-analysis cap reached, discarding new items",
			"feed_id", ev.FeedID,
			"new_items", len(ev.NewItemIDs),
			"used", used,
			"cap", b.cfg.MaxDailyPerFeed)
		return nil
	}

	allowed := b.cfg.MaxDailyPerFeed - used
	created := 0
	for start := 0; start < len(ev.NewItemIDs) && created < allowed; start += b.cfg.MaxItemsPerJob {
		end := start + b.cfg.MaxItemsPerJob
		if end > len(ev.NewItemIDs) {
			end = len(ev.NewItemIDs)
		}

		jobID, err := b.jobs.Create(ctx, ev.FeedID, ev.NewItemIDs[start:end])
		if err != nil {
			return fmt.Errorf("bridge: create pending job for feed %d: %w", ev.FeedID, err)
		}
		created++

		b.logger.InfoContext(ctx, "pending auto-analysis job enqueued",
			"feed_id", ev.FeedID, "job_id", jobID, "item_count", end-start)
	}

	if dropped := len(ev.NewItemIDs) - created*b.cfg.MaxItemsPerJob; created == allowed && dropped > 0 {
		b.logger.WarnContext(ctx, "daily cap truncated auto-analysis batches",
			"feed_id", ev.FeedID, "items_dropped", dropped)
	}
	return nil
}
