// ABOUTME: This file implements one fetch attempt for one feed
// ABOUTME: Fetch, parse, dedupe by content hash, persist, log, update health, emit event
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmcdole/gofeed"

	"newswatch/domain"
	"newswatch/events"
	"newswatch/metrics"
	"newswatch/repository"
	"newswatch/retry"
)

// Result summarizes one completed fetch attempt. The scheduler uses it to
// reschedule the feed and to apply the error threshold.
type Result struct {
	Status              domain.FetchStatus
	ItemsFound          int
	ItemsNew            int
	ItemsDropped        int
	NewItemIDs          []int64
	ResponseTime        time.Duration
	ETag                *string
	LastModified        *string
	ConsecutiveFailures int
	// Backoff is set for retryable failures (network, 5xx, 429). Non-retryable
	// failures keep the feed's normal schedule.
	Backoff bool
	Err     error
}

// Pipeline executes fetch attempts. It never reschedules feeds; that stays
// with the scheduler so claim and reschedule live in one place.
type Pipeline struct {
	items     repository.ItemRepository
	fetchLogs repository.FetchLogRepository
	health    repository.FeedHealthRepository
	client    FeedClient
	hosts     *HostRateLimiter
	bus       *events.Bus
	retrier   *retry.Retrier
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewPipeline creates a fetch pipeline.
func NewPipeline(
	items repository.ItemRepository,
	fetchLogs repository.FetchLogRepository,
	health repository.FeedHealthRepository,
	client FeedClient,
	hosts *HostRateLimiter,
	bus *events.Bus,
	retrier *retry.Retrier,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		items:     items,
		fetchLogs: fetchLogs,
		health:    health,
		client:    client,
		hosts:     hosts,
		bus:       bus,
		retrier:   retrier,
		metrics:   m,
		logger:    logger,
	}
}

// Run performs exactly one fetch attempt and always leaves behind one
// completed fetch log row plus one feed health update. The returned error is
// reserved for infrastructure failures before the attempt could be recorded.
func (p *Pipeline) Run(ctx context.Context, feed *domain.Feed) (*Result, error) {
	// Take the host token before opening the log row: an abandoned wait must
	// not leave a pending attempt behind.
	if err := p.hosts.WaitForHost(ctx, feed.URL); err != nil {
		return nil, fmt.Errorf("host rate limit wait for feed %d: %w", feed.ID, err)
	}

	startedAt := time.Now()
	logID, err := p.fetchLogs.Start(ctx, feed.ID, startedAt)
	if err != nil {
		return nil, fmt.Errorf("start fetch log for feed %d: %w", feed.ID, err)
	}

	fetched, fetchErr := p.client.Fetch(ctx, feed)
	elapsed := time.Since(startedAt)

	result := &Result{
		Status:       domain.FetchStatusSuccess,
		ResponseTime: elapsed,
	}

	if fetchErr != nil {
		return p.completeFailed(ctx, feed, logID, startedAt, elapsed, result, fetchErr)
	}

	if fetched.ETag != "" {
		result.ETag = &fetched.ETag
	}
	if fetched.LastModified != "" {
		result.LastModified = &fetched.LastModified
	}

	if !fetched.NotModified {
		if err := p.persistEntries(ctx, feed, fetched.Feed, result); err != nil {
			return p.completeFailed(ctx, feed, logID, startedAt, elapsed, result, err)
		}
	}

	p.completeLog(ctx, feed, logID, startedAt, result, nil)
	result.ConsecutiveFailures = p.updateHealth(ctx, feed.ID, true, elapsed.Milliseconds())
	p.observe(result)

	p.logger.InfoContext(ctx, "feed fetched",
		"feed_id", feed.ID,
		"items_found", result.ItemsFound,
		"items_new", result.ItemsNew,
		"items_dropped", result.ItemsDropped,
		"response_time_ms", elapsed.Milliseconds())

	p.bus.PublishFeedFetched(ctx, events.FeedFetched{
		FeedID:     feed.ID,
		NewItemIDs: result.NewItemIDs,
		FetchedAt:  time.Now(),
	})

	return result, nil
}

// persistEntries normalizes and upserts every parsed entry. A store failure
// that survives retries fails the whole fetch; already-inserted items stay.
func (p *Pipeline) persistEntries(ctx context.Context, feed *domain.Feed, parsed *gofeed.Feed, result *Result) error {
	for _, entry := range parsed.Items {
		item := normalizeEntry(feed.ID, entry)
		if !item.IsValid() {
			result.ItemsDropped++
			continue
		}
		result.ItemsFound++

		var inserted bool
		err := p.retrier.Do(ctx, func() error {
			var upsertErr error
			item.ID, inserted, upsertErr = p.items.UpsertByContentHash(ctx, item)
			return upsertErr
		})
		if err != nil {
			return fmt.Errorf("persist item for feed %d: %w", feed.ID, err)
		}

		if inserted {
			result.ItemsNew++
			result.NewItemIDs = append(result.NewItemIDs, item.ID)
		}
	}
	return nil
}

func (p *Pipeline) completeFailed(ctx context.Context, feed *domain.Feed, logID int64, startedAt time.Time, elapsed time.Duration, result *Result, cause error) (*Result, error) {
	var parseErr *ParseError
	if errors.As(cause, &parseErr) {
		// The response arrived but was not a feed. Keep whatever the
		// pipeline persisted before the failure.
		result.Status = domain.FetchStatusPartial
	} else {
		result.Status = domain.FetchStatusFailure
		result.Backoff = IsRetryableFetchError(cause)
	}
	result.Err = cause

	p.completeLog(ctx, feed, logID, startedAt, result, cause)
	result.ConsecutiveFailures = p.updateHealth(ctx, feed.ID, false, elapsed.Milliseconds())
	p.observe(result)

	p.logger.WarnContext(ctx, "feed fetch failed",
		"feed_id", feed.ID,
		"url", feed.URL,
		"status", result.Status,
		"backoff", result.Backoff,
		"error", cause)

	return result, nil
}

func (p *Pipeline) completeLog(ctx context.Context, feed *domain.Feed, logID int64, startedAt time.Time, result *Result, cause error) {
	completedAt := time.Now()
	log := &domain.FetchLog{
		ID:             logID,
		FeedID:         feed.ID,
		StartedAt:      startedAt,
		CompletedAt:    &completedAt,
		Status:         result.Status,
		ItemsFound:     result.ItemsFound,
		ItemsNew:       result.ItemsNew,
		ItemsDropped:   result.ItemsDropped,
		ResponseTimeMs: result.ResponseTime.Milliseconds(),
	}
	if cause != nil {
		msg := cause.Error()
		log.ErrorMessage = &msg
	}

	if err := p.fetchLogs.Complete(ctx, log); err != nil {
		p.logger.ErrorContext(ctx, "failed to complete fetch log",
			"feed_id", feed.ID, "fetch_log_id", logID, "error", err)
	}
}

func (p *Pipeline) observe(result *Result) {
	p.metrics.FetchAttempts.WithLabelValues(string(result.Status)).Inc()
	p.metrics.FetchDuration.Observe(result.ResponseTime.Seconds())
	if deduped := result.ItemsFound - result.ItemsNew; deduped > 0 {
		p.metrics.ItemsDeduped.Add(float64(deduped))
	}
}

// updateHealth folds the attempt into the feed health row and returns the
// resulting consecutive failure count for the scheduler's backoff math.
func (p *Pipeline) updateHealth(ctx context.Context, feedID int64, success bool, responseTimeMs int64) int {
	now := time.Now()

	health, err := p.health.Get(ctx, feedID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			p.logger.ErrorContext(ctx, "failed to load feed health", "feed_id", feedID, "error", err)
			return 0
		}
		health = &domain.FeedHealth{FeedID: feedID, OKRatio: 1.0, Uptime24h: 1.0, Uptime7d: 1.0}
	}

	health.RecordAttempt(success, responseTimeMs, now)
	health.Uptime24h = p.uptimeSince(ctx, feedID, now.Add(-24*time.Hour), health.Uptime24h)
	health.Uptime7d = p.uptimeSince(ctx, feedID, now.Add(-7*24*time.Hour), health.Uptime7d)

	if err := p.health.Upsert(ctx, health); err != nil {
		p.logger.ErrorContext(ctx, "failed to update feed health", "feed_id", feedID, "error", err)
	}
	return health.ConsecutiveFailures
}

func (p *Pipeline) uptimeSince(ctx context.Context, feedID int64, since time.Time, fallback float64) float64 {
	successes, attempts, err := p.fetchLogs.CountOutcomesSince(ctx, feedID, since)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to compute uptime window", "feed_id", feedID, "error", err)
		return fallback
	}
	if attempts == 0 {
		return 1.0
	}
	return float64(successes) / float64(attempts)
}

// normalizeEntry maps one parsed entry onto the item shape, including the
// deterministic content hash.
func normalizeEntry(feedID int64, entry *gofeed.Item) *domain.Item {
	item := &domain.Item{
		FeedID:      feedID,
		Title:       entry.Title,
		Link:        entry.Link,
		Description: entry.Description,
		Content:     entry.Content,
		GUID:        entry.GUID,
		PublishedAt: entry.PublishedParsed,
	}
	if entry.Author != nil {
		item.Author = entry.Author.Name
	}

	published := entry.Published
	if entry.PublishedParsed != nil {
		published = entry.PublishedParsed.UTC().Format(time.RFC3339)
	}
	item.ContentHash = ContentHash(feedID, entry.GUID, entry.Link, entry.Title, published)
	return item
}
