// ABOUTME: This file implements the feed scheduler tick loop and claim dispatch
// ABOUTME: Bounded fetch parallelism, failure backoff, and the feed error threshold
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"newswatch/config"
	"newswatch/domain"
	"newswatch/fetcher"
	"newswatch/repository"
)

// Scheduler decides when each feed is fetched. Claiming advances
// next_fetch_at inside the store so a crashed instance cannot double-fetch
// within one interval.
type Scheduler struct {
	feeds    repository.FeedRepository
	pipeline *fetcher.Pipeline
	cfg      config.SchedulerConfig
	logger   *slog.Logger

	slots chan struct{}

	mu       sync.Mutex
	inFlight map[int64]struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a feed scheduler.
func NewScheduler(feeds repository.FeedRepository, pipeline *fetcher.Pipeline, cfg config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		feeds:    feeds,
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logger,
		slots:    make(chan struct{}, cfg.MaxConcurrentFeeds),
		inFlight: make(map[int64]struct{}),
	}
}

// Run ticks until the context is cancelled, then waits for in-flight fetches.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.InfoContext(ctx, "feed scheduler started",
		"tick", s.cfg.TickInterval,
		"max_concurrent_feeds", s.cfg.MaxConcurrentFeeds)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "feed scheduler stopping")
			s.wg.Wait()
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick claims due feeds up to the free slot count and dispatches them.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	available := s.cfg.MaxConcurrentFeeds - len(s.inFlight)
	exclude := make([]int64, 0, len(s.inFlight))
	for id := range s.inFlight {
		exclude = append(exclude, id)
	}
	s.mu.Unlock()

	if available <= 0 {
		s.logger.DebugContext(ctx, "all fetch slots busy", "in_flight", len(exclude))
		return
	}

	claimed, err := s.feeds.ClaimDue(ctx, time.Now(), available, exclude)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to claim due feeds", "error", err)
		return
	}
	if len(claimed) == 0 {
		return
	}

	s.logger.DebugContext(ctx, "claimed due feeds", "count", len(claimed))
	for _, feed := range claimed {
		s.dispatch(ctx, feed)
	}
}

// ManualFetch bypasses the schedule check but still takes a global slot. The
// call blocks until the fetch completes.
func (s *Scheduler) ManualFetch(ctx context.Context, feedID int64) (*fetcher.Result, error) {
	feed, err := s.feeds.GetByID(ctx, feedID)
	if err != nil {
		return nil, fmt.Errorf("manual fetch: %w", err)
	}
	if feed.Status == domain.FeedStatusInactive {
		return nil, fmt.Errorf("manual fetch feed %d: %w", feedID, domain.ErrFeedNotFetchable)
	}

	if !s.markInFlight(feed.ID) {
		return nil, fmt.Errorf("manual fetch feed %d: fetch already in flight", feedID)
	}
	defer s.clearInFlight(feed.ID)

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("manual fetch feed %d: %w", feedID, ctx.Err())
	}
	defer func() { <-s.slots }()

	result, err := s.pipeline.Run(ctx, feed)
	if err != nil {
		return nil, err
	}
	s.reschedule(ctx, feed, result)
	return result, nil
}

func (s *Scheduler) dispatch(ctx context.Context, feed *domain.Feed) {
	if !s.markInFlight(feed.ID) {
		return
	}

	select {
	case s.slots <- struct{}{}:
	default:
		// Claim sizing keeps this from happening; give the claim back to
		// the next tick rather than blocking the loop.
		s.clearInFlight(feed.ID)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.slots }()
		defer s.clearInFlight(feed.ID)

		result, err := s.pipeline.Run(ctx, feed)
		if err != nil {
			s.logger.ErrorContext(ctx, "fetch dispatch failed", "feed_id", feed.ID, "error", err)
			return
		}
		s.reschedule(ctx, feed, result)
	}()
}

// reschedule sets the feed's next attempt time from the fetch outcome.
// Success and non-retryable failures keep the normal interval; retryable
// failures back off exponentially, capped at the configured maximum.
func (s *Scheduler) reschedule(ctx context.Context, feed *domain.Feed, result *fetcher.Result) {
	completedAt := time.Now()

	interval := feed.FetchInterval()
	next := completedAt.Add(interval)
	if result.Backoff {
		next = completedAt.Add(backoffDelay(interval, result.ConsecutiveFailures, s.cfg.MaxBackoff))
	}

	etag := feed.ETag
	lastModified := feed.LastModifiedHeader
	if result.ETag != nil {
		etag = result.ETag
	}
	if result.LastModified != nil {
		lastModified = result.LastModified
	}

	if err := s.feeds.Reschedule(ctx, feed.ID, completedAt, next, etag, lastModified); err != nil {
		s.logger.ErrorContext(ctx, "failed to reschedule feed", "feed_id", feed.ID, "error", err)
	}

	if result.ConsecutiveFailures >= s.cfg.ErrorThreshold {
		s.logger.WarnContext(ctx, "feed crossed error threshold",
			"feed_id", feed.ID,
			"consecutive_failures", result.ConsecutiveFailures,
			"threshold", s.cfg.ErrorThreshold)
		if err := s.feeds.UpdateStatus(ctx, feed.ID, domain.FeedStatusError); err != nil {
			s.logger.ErrorContext(ctx, "failed to mark feed errored", "feed_id", feed.ID, "error", err)
		}
	}
}

func (s *Scheduler) markInFlight(feedID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.inFlight[feedID]; exists {
		return false
	}
	s.inFlight[feedID] = struct{}{}
	return true
}

func (s *Scheduler) clearInFlight(feedID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, feedID)
}

// backoffDelay doubles the interval per consecutive failure, capped at max.
func backoffDelay(interval time.Duration, failures int, max time.Duration) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := interval
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
