package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newswatch/config"
	"newswatch/domain"
	"newswatch/events"
	"newswatch/featureflag"
	"newswatch/llm"
	"newswatch/metrics"
	"newswatch/runmanager"
)

type fakeRunStore struct {
	mu     sync.Mutex
	runs   map[int64]*domain.AnalysisRun
	nextID int64
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: map[int64]*domain.AnalysisRun{}}
}

func (s *fakeRunStore) Create(ctx context.Context, run *domain.AnalysisRun) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	copied := *run
	copied.ID = s.nextID
	s.runs[copied.ID] = &copied
	return copied.ID, nil
}

func (s *fakeRunStore) GetByID(ctx context.Context, id int64) (*domain.AnalysisRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	copied := *run
	return &copied, nil
}

func (s *fakeRunStore) Transition(ctx context.Context, runID int64, fromStates []domain.RunStatus, to domain.RunStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return false, domain.ErrRunNotFound
	}
	for _, from := range fromStates {
		if run.Status == from {
			run.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeRunStore) IncrementCounters(ctx context.Context, runID int64, processedDelta, failedDelta int, costDelta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[runID]
	run.ProcessedCount += processedDelta
	run.FailedCount += failedDelta
	run.ActualCostUSD += costDelta
	return nil
}

func (s *fakeRunStore) SetQueuedCount(ctx context.Context, runID int64, queued int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runID].QueuedCount = queued
	return nil
}

func (s *fakeRunStore) SetLastError(ctx context.Context, runID int64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runID].LastError = &message
	return nil
}

func (s *fakeRunStore) SetActualCost(ctx context.Context, runID int64, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runID].ActualCostUSD = cost
	return nil
}

func (s *fakeRunStore) ListByStatus(ctx context.Context, statuses ...domain.RunStatus) ([]*domain.AnalysisRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AnalysisRun
	for _, run := range s.runs {
		for _, status := range statuses {
			if run.Status == status {
				copied := *run
				out = append(out, &copied)
			}
		}
	}
	return out, nil
}

func (s *fakeRunStore) CountConfirmedSince(ctx context.Context, since time.Time, triggeredBy *domain.TriggeredBy) (int, error) {
	return 0, nil
}

func (s *fakeRunStore) CountStartedSince(ctx context.Context, since time.Time, triggeredBy *domain.TriggeredBy) (int, error) {
	return 0, nil
}

type fakeRunItemStore struct {
	mu    sync.Mutex
	items map[int64]map[int64]*domain.AnalysisRunItem
}

func newFakeRunItemStore() *fakeRunItemStore {
	return &fakeRunItemStore{items: map[int64]map[int64]*domain.AnalysisRunItem{}}
}

func (s *fakeRunItemStore) BulkInsert(ctx context.Context, runID int64, itemIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := map[int64]*domain.AnalysisRunItem{}
	for _, id := range itemIDs {
		rows[id] = &domain.AnalysisRunItem{RunID: runID, ItemID: id, State: domain.RunItemQueued}
	}
	s.items[runID] = rows
	return nil
}

func (s *fakeRunItemStore) ClaimQueued(ctx context.Context, runID int64, limit int) ([]*domain.AnalysisRunItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.items[runID]))
	for id := range s.items[runID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var claimed []*domain.AnalysisRunItem
	for _, id := range ids {
		if len(claimed) >= limit {
			break
		}
		row := s.items[runID][id]
		if row.State == domain.RunItemQueued {
			row.State = domain.RunItemProcessing
			copied := *row
			claimed = append(claimed, &copied)
		}
	}
	return claimed, nil
}

func (s *fakeRunItemStore) Transition(ctx context.Context, runID, itemID int64, from, to domain.RunItemState, tokensUsed int, costUSD float64, errorMessage *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.items[runID][itemID]
	if !ok || row.State != from {
		return false, nil
	}
	row.State = to
	row.TokensUsed = tokensUsed
	row.CostUSD = costUSD
	row.ErrorMessage = errorMessage
	return true, nil
}

func (s *fakeRunItemStore) CountByState(ctx context.Context, runID int64) (map[domain.RunItemState]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[domain.RunItemState]int{}
	for _, row := range s.items[runID] {
		counts[row.State]++
	}
	return counts, nil
}

func (s *fakeRunItemStore) RequeueProcessing(ctx context.Context, runID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.items[runID] {
		if row.State == domain.RunItemProcessing {
			row.State = domain.RunItemQueued
			n++
		}
	}
	return n, nil
}

func (s *fakeRunItemStore) SkipQueued(ctx context.Context, runID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.items[runID] {
		if row.State == domain.RunItemQueued {
			row.State = domain.RunItemSkipped
			n++
		}
	}
	return n, nil
}

func (s *fakeRunItemStore) SumCost(ctx context.Context, runID int64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, row := range s.items[runID] {
		total += row.CostUSD
	}
	return total, nil
}

func (s *fakeRunItemStore) stateOf(t *testing.T, runID, itemID int64) domain.RunItemState {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.items[runID][itemID]
	require.True(t, ok)
	return row.State
}

type fakeItemStore struct{}

func (s *fakeItemStore) UpsertByContentHash(ctx context.Context, item *domain.Item) (int64, bool, error) {
	return 0, false, nil
}

func (s *fakeItemStore) GetByID(ctx context.Context, id int64) (*domain.Item, error) {
	return &domain.Item{ID: id, Title: fmt.Sprintf("Item %d", id), Link: "https://example.com"}, nil
}

func (s *fakeItemStore) ResolveScope(ctx context.Context, scope domain.RunScope, limit int, skipAnalyzed bool) ([]int64, error) {
	out := append([]int64(nil), scope.ItemIDs...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeItemStore) CountAnalyzed(ctx context.Context, itemIDs []int64) (int, error) {
	return 0, nil
}

type fakeAnalysisStore struct {
	mu       sync.Mutex
	upserted []*domain.ItemAnalysis
}

func (s *fakeAnalysisStore) Upsert(ctx context.Context, analysis *domain.ItemAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, analysis)
	return nil
}

func (s *fakeAnalysisStore) Get(ctx context.Context, itemID int64) (*domain.ItemAnalysis, error) {
	return nil, domain.ErrNotFound
}

func (s *fakeAnalysisStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.upserted)
}

type fakeFlagStore struct{}

func (s *fakeFlagStore) GetAll(ctx context.Context) ([]*domain.FeatureFlag, error) { return nil, nil }

func (s *fakeFlagStore) Upsert(ctx context.Context, flag *domain.FeatureFlag) error { return nil }

type stubProvider struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *stubProvider) Analyze(ctx context.Context, item *domain.Item, modelTag string) (*llm.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.calls
	s.calls++
	if call < len(s.errs) && s.errs[call] != nil {
		return nil, s.errs[call]
	}
	return &llm.Analysis{
		Sentiment:  domain.NeutralSentiment(),
		Impact:     domain.NeutralImpact(),
		TokensUsed: 150,
		CostUSD:    0.0004,
	}, nil
}

func (s *stubProvider) CheckHealth(ctx context.Context) error { return nil }

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func testPoolConfig() config.AnalysisConfig {
	return config.AnalysisConfig{
		MaxConcurrentRuns: 2,
		PerRunWorkers:     2,
		MaxDailyRuns:      100,
		MaxDailyAutoRuns:  100,
		MaxHourlyRuns:     100,
		RatePerSecond:     1000,
		BatchLimit:        100,
		MaxBatchLimit:     500,
		DefaultModelTag:   "gemma3:4b",
		AutoModelTag:      "gemma3:4b",
	}
}

type poolFixture struct {
	pool     *Pool
	manager  *runmanager.Manager
	runs     *fakeRunStore
	runItems *fakeRunItemStore
	analyses *fakeAnalysisStore
	provider *stubProvider
	flags    *featureflag.Registry
}

func newPoolFixture(t *testing.T, provider *stubProvider) *poolFixture {
	t.Helper()
	logger := testLogger()
	bus := events.NewBus(logger)
	cfg := testPoolConfig()

	runs := newFakeRunStore()
	runItems := newFakeRunItemStore()
	items := &fakeItemStore{}
	analyses := &fakeAnalysisStore{}
	flags := featureflag.NewRegistry(config.FeatureFlagsConfig{
		WindowSize:          10,
		MinSamples:          5,
		ErrorRateThreshold:  0.5,
		LatencyFactor:       10,
		ConsecutiveFailures: 5,
	}, &fakeFlagStore{}, bus, logger)

	manager := runmanager.NewManager(runs, runItems, items, cfg, bus, logger)
	pool := NewPool(manager, runs, runItems, items, analyses, provider, flags, cfg, metrics.New(), logger)

	return &poolFixture{
		pool:     pool,
		manager:  manager,
		runs:     runs,
		runItems: runItems,
		analyses: analyses,
		provider: provider,
		flags:    flags,
	}
}

// startRun previews and confirms a run over the given item ids and returns it
// together with its claimed items.
func (f *poolFixture) startRun(t *testing.T, itemIDs ...int64) (*domain.AnalysisRun, []*domain.AnalysisRunItem) {
	t.Helper()
	ctx := context.Background()

	preview, err := f.manager.Preview(ctx, domain.ItemScope(itemIDs...), domain.RunParams{Limit: -1})
	require.NoError(t, err)
	_, err = f.manager.Confirm(ctx, preview.RunID)
	require.NoError(t, err)

	run, err := f.manager.Get(ctx, preview.RunID)
	require.NoError(t, err)

	claimed, err := f.runItems.ClaimQueued(ctx, run.ID, len(itemIDs))
	require.NoError(t, err)
	require.Len(t, claimed, len(itemIDs))
	return run, claimed
}

func TestPool_Work(t *testing.T) {
	ctx := context.Background()

	t.Run("analyzes an item and completes the run", func(t *testing.T) {
		f := newPoolFixture(t, &stubProvider{})
		run, claimed := f.startRun(t, 10)

		f.pool.work(ctx, task{run: run, item: claimed[0]})

		assert.Equal(t, domain.RunItemCompleted, f.runItems.stateOf(t, run.ID, 10))
		assert.Equal(t, 1, f.analyses.count())

		got, err := f.manager.Get(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusCompleted, got.Status)
		assert.Equal(t, 1, got.ProcessedCount)
	})

	t.Run("non-retryable failures fall back to a neutral document", func(t *testing.T) {
		provider := &stubProvider{errs: []error{
			fmt.Errorf("analyze: %w", domain.ErrInvalidResponse),
		}}
		f := newPoolFixture(t, provider)
		run, claimed := f.startRun(t, 10)

		f.pool.work(ctx, task{run: run, item: claimed[0]})

		assert.Equal(t, domain.RunItemFailed, f.runItems.stateOf(t, run.ID, 10))
		// The fallback document is still written.
		require.Equal(t, 1, f.analyses.count())
		assert.Equal(t, domain.SentimentNeutral, f.analyses.upserted[0].Sentiment.Overall.Label)
		assert.Equal(t, 1, provider.callCount())

		got, err := f.manager.Get(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusFailed, got.Status)
		require.NotNil(t, got.LastError)
	})

	t.Run("retryable failures are retried", func(t *testing.T) {
		provider := &stubProvider{errs: []error{
			fmt.Errorf("analyze: %w", domain.ErrProviderUnavailable),
		}}
		f := newPoolFixture(t, provider)
		run, claimed := f.startRun(t, 10)

		f.pool.work(ctx, task{run: run, item: claimed[0]})

		assert.Equal(t, 2, provider.callCount())
		assert.Equal(t, domain.RunItemCompleted, f.runItems.stateOf(t, run.ID, 10))
	})

	t.Run("paused runs requeue claimed items", func(t *testing.T) {
		f := newPoolFixture(t, &stubProvider{})
		run, claimed := f.startRun(t, 10)
		require.NoError(t, f.manager.Pause(ctx, run.ID))

		f.pool.work(ctx, task{run: run, item: claimed[0]})

		assert.Equal(t, domain.RunItemQueued, f.runItems.stateOf(t, run.ID, 10))
		assert.Zero(t, f.provider.callCount())
	})

	t.Run("cancelled runs skip claimed items", func(t *testing.T) {
		f := newPoolFixture(t, &stubProvider{})
		run, claimed := f.startRun(t, 10)
		require.NoError(t, f.manager.Cancel(ctx, run.ID))

		f.pool.work(ctx, task{run: run, item: claimed[0]})

		assert.Equal(t, domain.RunItemSkipped, f.runItems.stateOf(t, run.ID, 10))
		assert.Zero(t, f.provider.callCount())
	})

	t.Run("a tripped breaker short-circuits to the fallback", func(t *testing.T) {
		f := newPoolFixture(t, &stubProvider{})
		run, claimed := f.startRun(t, 10)
		require.NoError(t, f.flags.SetStatus(ctx, ProviderFlag, domain.FlagEmergencyOff, 0))

		f.pool.work(ctx, task{run: run, item: claimed[0]})

		assert.Zero(t, f.provider.callCount())
		assert.Equal(t, domain.RunItemFailed, f.runItems.stateOf(t, run.ID, 10))
		assert.Equal(t, 1, f.analyses.count())
	})
}

func TestPool_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("claims queued items from running runs", func(t *testing.T) {
		f := newPoolFixture(t, &stubProvider{})

		preview, err := f.manager.Preview(ctx, domain.ItemScope(10, 11, 12), domain.RunParams{Limit: -1})
		require.NoError(t, err)
		_, err = f.manager.Confirm(ctx, preview.RunID)
		require.NoError(t, err)

		f.pool.dispatch(ctx)

		// PerRunWorkers bounds how many items one dispatch round claims.
		counts, err := f.runItems.CountByState(ctx, preview.RunID)
		require.NoError(t, err)
		assert.Equal(t, 2, counts[domain.RunItemProcessing])
		assert.Equal(t, 1, counts[domain.RunItemQueued])
		assert.Len(t, f.pool.tasks, 2)
	})
}

func TestPool_Limiters(t *testing.T) {
	t.Run("one bucket per run", func(t *testing.T) {
		f := newPoolFixture(t, &stubProvider{})

		first := f.pool.limiterFor(1, 2.5)
		again := f.pool.limiterFor(1, 2.5)
		other := f.pool.limiterFor(2, 2.5)

		assert.Same(t, first, again)
		assert.NotSame(t, first, other)
	})

	t.Run("non-positive rates fall back to the default", func(t *testing.T) {
		f := newPoolFixture(t, &stubProvider{})

		limiter := f.pool.limiterFor(1, 0)
		assert.Equal(t, float64(testPoolConfig().RatePerSecond), float64(limiter.Limit()))
	})

	t.Run("buckets of finished runs are pruned", func(t *testing.T) {
		f := newPoolFixture(t, &stubProvider{})
		f.pool.limiterFor(1, 1)
		f.pool.limiterFor(2, 1)

		f.pool.pruneLimiters([]*domain.AnalysisRun{{ID: 2}})

		f.pool.mu.Lock()
		defer f.pool.mu.Unlock()
		assert.NotContains(t, f.pool.limiters, int64(1))
		assert.Contains(t, f.pool.limiters, int64(2))
	})
}
