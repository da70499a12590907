package repository

import (
	"context"
	"time"

	"newswatch/domain"
)

// FeedRepository persists feeds and implements the scheduler claim protocol.
type FeedRepository interface {
	Create(ctx context.Context, feed *domain.Feed) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.Feed, error)
	List(ctx context.Context) ([]*domain.Feed, error)
	// ClaimDue atomically selects feeds with next_fetch_at <= now and
	// status=active, advances next_fetch_at by one interval as the claim
	// lease, and returns the claimed rows ordered by next_fetch_at.
	ClaimDue(ctx context.Context, now time.Time, limit int, excludeIDs []int64) ([]*domain.Feed, error)
	// Reschedule sets the post-fetch timing and conditional-request state.
	Reschedule(ctx context.Context, feedID int64, lastFetchedAt, nextFetchAt time.Time, etag, lastModified *string) error
	UpdateStatus(ctx context.Context, feedID int64, status domain.FeedStatus) error
	Delete(ctx context.Context, feedID int64) error
}

// ItemRepository persists items with content-hash dedup and resolves run scopes.
type ItemRepository interface {
	// UpsertByContentHash inserts the item unless its content hash already
	// exists. Returns the row id and whether a new row was inserted.
	UpsertByContentHash(ctx context.Context, item *domain.Item) (id int64, inserted bool, err error)
	GetByID(ctx context.Context, id int64) (*domain.Item, error)
	// ResolveScope produces the concrete, id-ascending candidate list for a
	// run scope. When skipAnalyzed is set, items that already have an
	// analysis are filtered out.
	ResolveScope(ctx context.Context, scope domain.RunScope, limit int, skipAnalyzed bool) ([]int64, error)
	CountAnalyzed(ctx context.Context, itemIDs []int64) (int, error)
}

// FetchLogRepository records fetch attempts. Append-only.
type FetchLogRepository interface {
	Start(ctx context.Context, feedID int64, startedAt time.Time) (int64, error)
	Complete(ctx context.Context, log *domain.FetchLog) error
	// CountOutcomesSince returns (successes, attempts) for a feed within the
	// window, for rolling uptime ratios.
	CountOutcomesSince(ctx context.Context, feedID int64, since time.Time) (successes, attempts int, err error)
}

// FeedHealthRepository keeps the one-per-feed health snapshot.
type FeedHealthRepository interface {
	Get(ctx context.Context, feedID int64) (*domain.FeedHealth, error)
	Upsert(ctx context.Context, health *domain.FeedHealth) error
}

// AnalysisRunRepository owns run rows and the CAS transition primitive.
type AnalysisRunRepository interface {
	Create(ctx context.Context, run *domain.AnalysisRun) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.AnalysisRun, error)
	// Transition performs a compare-and-set from any of fromStates to
	// toState, stamping the matching lifecycle timestamp. Returns false when
	// the current state is not in fromStates.
	Transition(ctx context.Context, runID int64, fromStates []domain.RunStatus, to domain.RunStatus) (bool, error)
	IncrementCounters(ctx context.Context, runID int64, processedDelta, failedDelta int, costDelta float64) error
	SetQueuedCount(ctx context.Context, runID int64, queued int) error
	SetLastError(ctx context.Context, runID int64, message string) error
	SetActualCost(ctx context.Context, runID int64, cost float64) error
	ListByStatus(ctx context.Context, statuses ...domain.RunStatus) ([]*domain.AnalysisRun, error)
	CountConfirmedSince(ctx context.Context, since time.Time, triggeredBy *domain.TriggeredBy) (int, error)
	// CountStartedSince counts runs whose execution began in the window. The
	// rate cap budgets are measured on starts so a confirmed run waiting in
	// the queue does not count against itself.
	CountStartedSince(ctx context.Context, since time.Time, triggeredBy *domain.TriggeredBy) (int, error)
}

// RunItemRepository owns (run, item) rows.
type RunItemRepository interface {
	BulkInsert(ctx context.Context, runID int64, itemIDs []int64) error
	// ClaimQueued CAS-transitions up to limit queued items to processing in
	// id-ascending order and returns them.
	ClaimQueued(ctx context.Context, runID int64, limit int) ([]*domain.AnalysisRunItem, error)
	// Transition performs a compare-and-set on one run item.
	Transition(ctx context.Context, runID, itemID int64, from, to domain.RunItemState, tokensUsed int, costUSD float64, errorMessage *string) (bool, error)
	CountByState(ctx context.Context, runID int64) (map[domain.RunItemState]int, error)
	// RequeueProcessing returns processing items to queued (pause path).
	RequeueProcessing(ctx context.Context, runID int64) (int64, error)
	// SkipQueued marks all still-queued items skipped (cancel path).
	SkipQueued(ctx context.Context, runID int64) (int64, error)
	SumCost(ctx context.Context, runID int64) (float64, error)
}

// ItemAnalysisRepository upserts the one-per-item analysis document.
type ItemAnalysisRepository interface {
	Upsert(ctx context.Context, analysis *domain.ItemAnalysis) error
	Get(ctx context.Context, itemID int64) (*domain.ItemAnalysis, error)
}

// PendingJobRepository owns the auto-analysis job queue.
type PendingJobRepository interface {
	Create(ctx context.Context, feedID int64, itemIDs []int64) (int64, error)
	ListPending(ctx context.Context, limit int) ([]*domain.PendingAutoAnalysis, error)
	// Transition performs a compare-and-set on job status.
	Transition(ctx context.Context, jobID int64, from, to domain.PendingJobStatus) (bool, error)
	CompleteWithRun(ctx context.Context, jobID, runID int64) error
	MarkFailed(ctx context.Context, jobID int64, reason string) error
	ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// CountForFeedSince counts jobs for the daily cap. Which statuses count
	// is the caller's policy.
	CountForFeedSince(ctx context.Context, feedID int64, since time.Time, statuses []domain.PendingJobStatus) (int, error)
}

// FeatureFlagRepository persists administrative flag state.
type FeatureFlagRepository interface {
	GetAll(ctx context.Context) ([]*domain.FeatureFlag, error)
	Upsert(ctx context.Context, flag *domain.FeatureFlag) error
}
