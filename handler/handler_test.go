package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newswatch/config"
	"newswatch/domain"
	"newswatch/events"
	"newswatch/featureflag"
	"newswatch/fetcher"
	"newswatch/llm"
	"newswatch/metrics"
	"newswatch/retry"
	"newswatch/runmanager"
	"newswatch/scheduler"
)

type stubFeedStore struct {
	mu     sync.Mutex
	feeds  map[int64]*domain.Feed
	nextID int64
}

func newStubFeedStore(feeds ...*domain.Feed) *stubFeedStore {
	s := &stubFeedStore{feeds: map[int64]*domain.Feed{}}
	for _, f := range feeds {
		s.feeds[f.ID] = f
		if f.ID > s.nextID {
			s.nextID = f.ID
		}
	}
	return s
}

func (s *stubFeedStore) Create(ctx context.Context, feed *domain.Feed) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.feeds {
		if existing.URL == feed.URL {
			return 0, fmt.Errorf("feeds.create: %w", domain.ErrConflict)
		}
	}
	s.nextID++
	copied := *feed
	copied.ID = s.nextID
	s.feeds[copied.ID] = &copied
	return copied.ID, nil
}

func (s *stubFeedStore) GetByID(ctx context.Context, id int64) (*domain.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return feed, nil
}

func (s *stubFeedStore) List(ctx context.Context) ([]*domain.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Feed, 0, len(s.feeds))
	for _, feed := range s.feeds {
		out = append(out, feed)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubFeedStore) ClaimDue(ctx context.Context, now time.Time, limit int, excludeIDs []int64) ([]*domain.Feed, error) {
	return nil, nil
}

func (s *stubFeedStore) Reschedule(ctx context.Context, feedID int64, lastFetchedAt, nextFetchAt time.Time, etag, lastModified *string) error {
	return nil
}

func (s *stubFeedStore) UpdateStatus(ctx context.Context, feedID int64, status domain.FeedStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[feedID]
	if !ok {
		return fmt.Errorf("feeds.update_status: %w", domain.ErrFeedNotFound)
	}
	feed.Status = status
	return nil
}

func (s *stubFeedStore) Delete(ctx context.Context, feedID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.feeds[feedID]; !ok {
		return fmt.Errorf("feeds.delete: %w", domain.ErrFeedNotFound)
	}
	delete(s.feeds, feedID)
	return nil
}

type stubHealthStore struct {
	health map[int64]*domain.FeedHealth
}

func (s *stubHealthStore) Get(ctx context.Context, feedID int64) (*domain.FeedHealth, error) {
	health, ok := s.health[feedID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return health, nil
}

func (s *stubHealthStore) Upsert(ctx context.Context, health *domain.FeedHealth) error {
	if s.health == nil {
		s.health = map[int64]*domain.FeedHealth{}
	}
	s.health[health.FeedID] = health
	return nil
}

type stubItemStore struct {
	items map[int64]*domain.Item
}

func (s *stubItemStore) UpsertByContentHash(ctx context.Context, item *domain.Item) (int64, bool, error) {
	return 1, true, nil
}

func (s *stubItemStore) GetByID(ctx context.Context, id int64) (*domain.Item, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

func (s *stubItemStore) ResolveScope(ctx context.Context, scope domain.RunScope, limit int, skipAnalyzed bool) ([]int64, error) {
	ids := make([]int64, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *stubItemStore) CountAnalyzed(ctx context.Context, itemIDs []int64) (int, error) {
	return 0, nil
}

type stubAnalysisStore struct {
	analyses map[int64]*domain.ItemAnalysis
}

func (s *stubAnalysisStore) Upsert(ctx context.Context, analysis *domain.ItemAnalysis) error {
	return nil
}

func (s *stubAnalysisStore) Get(ctx context.Context, itemID int64) (*domain.ItemAnalysis, error) {
	analysis, ok := s.analyses[itemID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return analysis, nil
}

type stubRunStore struct {
	mu     sync.Mutex
	runs   map[int64]*domain.AnalysisRun
	nextID int64
}

func newStubRunStore() *stubRunStore {
	return &stubRunStore{runs: map[int64]*domain.AnalysisRun{}}
}

func (s *stubRunStore) Create(ctx context.Context, run *domain.AnalysisRun) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	copied := *run
	copied.ID = s.nextID
	copied.CreatedAt = time.Now()
	s.runs[copied.ID] = &copied
	return copied.ID, nil
}

func (s *stubRunStore) GetByID(ctx context.Context, id int64) (*domain.AnalysisRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	copied := *run
	return &copied, nil
}

func (s *stubRunStore) Transition(ctx context.Context, runID int64, fromStates []domain.RunStatus, to domain.RunStatus) (bool, error) {
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

func (s *stubRunStore) IncrementCounters(ctx context.Context, runID int64, processedDelta, failedDelta int, costDelta float64) error {
	return nil
}

func (s *stubRunStore) SetQueuedCount(ctx context.Context, runID int64, queued int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runID].QueuedCount = queued
	return nil
}

func (s *stubRunStore) SetLastError(ctx context.Context, runID int64, message string) error {
	return nil
}

func (s *stubRunStore) SetActualCost(ctx context.Context, runID int64, cost float64) error {
	return nil
}

func (s *stubRunStore) ListByStatus(ctx context.Context, statuses ...domain.RunStatus) ([]*domain.AnalysisRun, error) {
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
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubRunStore) CountConfirmedSince(ctx context.Context, since time.Time, triggeredBy *domain.TriggeredBy) (int, error) {
	return 0, nil
}

func (s *stubRunStore) CountStartedSince(ctx context.Context, since time.Time, triggeredBy *domain.TriggeredBy) (int, error) {
	return 0, nil
}

type stubRunItemStore struct {
	mu    sync.Mutex
	items map[int64]map[int64]*domain.AnalysisRunItem
}

func newStubRunItemStore() *stubRunItemStore {
	return &stubRunItemStore{items: map[int64]map[int64]*domain.AnalysisRunItem{}}
}

func (s *stubRunItemStore) BulkInsert(ctx context.Context, runID int64, itemIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := map[int64]*domain.AnalysisRunItem{}
	for _, id := range itemIDs {
		rows[id] = &domain.AnalysisRunItem{RunID: runID, ItemID: id, State: domain.RunItemQueued}
	}
	s.items[runID] = rows
	return nil
}

func (s *stubRunItemStore) ClaimQueued(ctx context.Context, runID int64, limit int) ([]*domain.AnalysisRunItem, error) {
	return nil, nil
}

func (s *stubRunItemStore) Transition(ctx context.Context, runID, itemID int64, from, to domain.RunItemState, tokensUsed int, costUSD float64, errorMessage *string) (bool, error) {
	return false, nil
}

func (s *stubRunItemStore) CountByState(ctx context.Context, runID int64) (map[domain.RunItemState]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[domain.RunItemState]int{}
	for _, row := range s.items[runID] {
		counts[row.State]++
	}
	return counts, nil
}

func (s *stubRunItemStore) RequeueProcessing(ctx context.Context, runID int64) (int64, error) {
	return 0, nil
}

func (s *stubRunItemStore) SkipQueued(ctx context.Context, runID int64) (int64, error) {
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

func (s *stubRunItemStore) SumCost(ctx context.Context, runID int64) (float64, error) {
	return 0, nil
}

type stubFlagStore struct{}

func (s *stubFlagStore) GetAll(ctx context.Context) ([]*domain.FeatureFlag, error) { return nil, nil }

func (s *stubFlagStore) Upsert(ctx context.Context, flag *domain.FeatureFlag) error { return nil }

type stubFetchLogStore struct{}

func (s *stubFetchLogStore) Start(ctx context.Context, feedID int64, startedAt time.Time) (int64, error) {
	return 1, nil
}

func (s *stubFetchLogStore) Complete(ctx context.Context, log *domain.FetchLog) error { return nil }

func (s *stubFetchLogStore) CountOutcomesSince(ctx context.Context, feedID int64, since time.Time) (int, int, error) {
	return 1, 1, nil
}

type stubFeedClient struct {
	result *fetcher.FetchResult
	err    error
}

func (s *stubFeedClient) Fetch(ctx context.Context, feed *domain.Feed) (*fetcher.FetchResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &fetcher.FetchResult{Feed: &gofeed.Feed{}}, nil
}

type stubProvider struct {
	healthErr error
}

func (s *stubProvider) Analyze(ctx context.Context, item *domain.Item, modelTag string) (*llm.Analysis, error) {
	return nil, errors.New("not implemented")
}

func (s *stubProvider) CheckHealth(ctx context.Context) error { return s.healthErr }

type stubPinger struct {
	err error
}

func (s *stubPinger) Ping(ctx context.Context) error { return s.err }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type apiFixture struct {
	echo     *echo.Echo
	handler  *Handler
	feeds    *stubFeedStore
	items    *stubItemStore
	runs     *stubRunStore
	manager  *runmanager.Manager
	provider *stubProvider
	db       *stubPinger
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := testLogger()
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	bus := events.NewBus(logger)

	feeds := newStubFeedStore()
	health := &stubHealthStore{}
	items := &stubItemStore{items: map[int64]*domain.Item{}}
	analyses := &stubAnalysisStore{analyses: map[int64]*domain.ItemAnalysis{}}
	runs := newStubRunStore()
	runItems := newStubRunItemStore()

	retrier := retry.NewRetrier(retry.Config{
		MaxAttempts:   2,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}, domain.IsRetryableStore, logger)
	pipeline := fetcher.NewPipeline(
		items, &stubFetchLogStore{}, health, &stubFeedClient{},
		fetcher.NewHostRateLimiter(0), bus, retrier, metrics.New(), logger)
	sched := scheduler.NewScheduler(feeds, pipeline, cfg.Scheduler, logger)

	manager := runmanager.NewManager(runs, runItems, items, cfg.Analysis, bus, logger)
	flags := featureflag.NewRegistry(cfg.FeatureFlags, &stubFlagStore{}, bus, logger)

	provider := &stubProvider{}
	db := &stubPinger{}
	handler := NewHandler(feeds, health, items, analyses, runs, sched, manager, flags, provider, db, cfg, logger)

	return &apiFixture{
		echo:     handler.NewEcho(),
		handler:  handler,
		feeds:    feeds,
		items:    items,
		runs:     runs,
		manager:  manager,
		provider: provider,
		db:       db,
	}
}

func (f *apiFixture) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestFeedEndpoints(t *testing.T) {
	t.Run("register feed", func(t *testing.T) {
		f := newAPIFixture(t)

		rec := f.request(t, http.MethodPost, "/v1/feeds",
			`{"url": "https://example.com/feed.xml", "title": "Example", "auto_analyze_enabled": true}`)

		require.Equal(t, http.StatusCreated, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "active", body["status"])
		// Omitted interval falls back to the default.
		assert.EqualValues(t, defaultFetchIntervalMin, body["fetch_interval_minutes"])
	})

	t.Run("register rejects relative urls", func(t *testing.T) {
		f := newAPIFixture(t)

		rec := f.request(t, http.MethodPost, "/v1/feeds", `{"url": "/feed.xml"}`)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_request", decodeBody(t, rec)["code"])
	})

	t.Run("duplicate url conflicts", func(t *testing.T) {
		f := newAPIFixture(t)
		payload := `{"url": "https://example.com/feed.xml"}`

		f.request(t, http.MethodPost, "/v1/feeds", payload)
		rec := f.request(t, http.MethodPost, "/v1/feeds", payload)

		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "conflict", decodeBody(t, rec)["code"])
	})

	t.Run("get missing feed", func(t *testing.T) {
		f := newAPIFixture(t)

		rec := f.request(t, http.MethodGet, "/v1/feeds/42", "")

		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeBody(t, rec)["code"])
	})

	t.Run("status updates allow only active and inactive", func(t *testing.T) {
		f := newAPIFixture(t)
		f.feeds.feeds[1] = &domain.Feed{ID: 1, URL: "https://example.com/feed", Status: domain.FeedStatusActive}

		rec := f.request(t, http.MethodPatch, "/v1/feeds/1/status", `{"status": "inactive"}`)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = f.request(t, http.MethodPatch, "/v1/feeds/1/status", `{"status": "error"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("manual fetch of an inactive feed", func(t *testing.T) {
		f := newAPIFixture(t)
		f.feeds.feeds[1] = &domain.Feed{ID: 1, URL: "https://example.com/feed", Status: domain.FeedStatusInactive}

		rec := f.request(t, http.MethodPost, "/v1/feeds/1/fetch", "")

		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "feed_not_fetchable", decodeBody(t, rec)["code"])
	})

	t.Run("manual fetch reports the attempt", func(t *testing.T) {
		f := newAPIFixture(t)
		f.feeds.feeds[1] = &domain.Feed{
			ID: 1, URL: "https://example.com/feed",
			Status: domain.FeedStatusActive, FetchIntervalMin: 30,
		}

		rec := f.request(t, http.MethodPost, "/v1/feeds/1/fetch", "")

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "success", body["status"])
	})

	t.Run("delete feed", func(t *testing.T) {
		f := newAPIFixture(t)
		f.feeds.feeds[1] = &domain.Feed{ID: 1, URL: "https://example.com/feed"}

		rec := f.request(t, http.MethodDelete, "/v1/feeds/1", "")
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = f.request(t, http.MethodDelete, "/v1/feeds/1", "")
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRunEndpoints(t *testing.T) {
	seedItems := func(f *apiFixture, n int) {
		for i := 1; i <= n; i++ {
			f.items.items[int64(i)] = &domain.Item{ID: int64(i), Title: fmt.Sprintf("Item %d", i)}
		}
	}

	t.Run("preview and confirm", func(t *testing.T) {
		f := newAPIFixture(t)
		seedItems(f, 3)

		rec := f.request(t, http.MethodPost, "/v1/analysis/preview", `{"scope": {"kind": "global"}}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		body := decodeBody(t, rec)
		assert.EqualValues(t, 3, body["new_items_count"])
		runID := int64(body["run_id"].(float64))

		rec = f.request(t, http.MethodPost, fmt.Sprintf("/v1/analysis/runs/%d/confirm", runID), "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "running", decodeBody(t, rec)["status"])
	})

	t.Run("preview rejects invalid scopes", func(t *testing.T) {
		f := newAPIFixture(t)

		rec := f.request(t, http.MethodPost, "/v1/analysis/preview", `{"scope": {"kind": "feeds"}}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("preview rejects negative limits", func(t *testing.T) {
		f := newAPIFixture(t)

		rec := f.request(t, http.MethodPost, "/v1/analysis/preview",
			`{"scope": {"kind": "global"}, "params": {"limit": -5}}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("confirming twice is a conflict", func(t *testing.T) {
		f := newAPIFixture(t)
		seedItems(f, 1)

		rec := f.request(t, http.MethodPost, "/v1/analysis/preview", `{"scope": {"kind": "global"}}`)
		runID := int64(decodeBody(t, rec)["run_id"].(float64))

		f.request(t, http.MethodPost, fmt.Sprintf("/v1/analysis/runs/%d/confirm", runID), "")
		rec = f.request(t, http.MethodPost, fmt.Sprintf("/v1/analysis/runs/%d/confirm", runID), "")

		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "invalid_transition", decodeBody(t, rec)["code"])
	})

	t.Run("pause and resume round trip", func(t *testing.T) {
		f := newAPIFixture(t)
		seedItems(f, 1)

		rec := f.request(t, http.MethodPost, "/v1/analysis/preview", `{"scope": {"kind": "global"}}`)
		runID := int64(decodeBody(t, rec)["run_id"].(float64))
		f.request(t, http.MethodPost, fmt.Sprintf("/v1/analysis/runs/%d/confirm", runID), "")

		rec = f.request(t, http.MethodPost, fmt.Sprintf("/v1/analysis/runs/%d/pause", runID), "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "paused", decodeBody(t, rec)["status"])

		rec = f.request(t, http.MethodPost, fmt.Sprintf("/v1/analysis/runs/%d/resume", runID), "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "running", decodeBody(t, rec)["status"])
	})

	t.Run("emergency stop blocks confirmation", func(t *testing.T) {
		f := newAPIFixture(t)
		seedItems(f, 1)

		rec := f.request(t, http.MethodPost, "/v1/analysis/emergency-stop", "")
		require.Equal(t, http.StatusAccepted, rec.Code)

		rec = f.request(t, http.MethodPost, "/v1/analysis/preview", `{"scope": {"kind": "global"}}`)
		runID := int64(decodeBody(t, rec)["run_id"].(float64))

		rec = f.request(t, http.MethodPost, fmt.Sprintf("/v1/analysis/runs/%d/confirm", runID), "")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "emergency_stopped", decodeBody(t, rec)["code"])

		rec = f.request(t, http.MethodPost, "/v1/analysis/resume-all", "")
		require.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("list runs validates the status filter", func(t *testing.T) {
		f := newAPIFixture(t)

		rec := f.request(t, http.MethodGet, "/v1/analysis/runs?status=sideways", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.request(t, http.MethodGet, "/v1/analysis/runs?status=running,paused", "")
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("get missing run", func(t *testing.T) {
		f := newAPIFixture(t)

		rec := f.request(t, http.MethodGet, "/v1/analysis/runs/99", "")
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestItemEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	f.items.items[5] = &domain.Item{ID: 5, Title: "Item"}

	rec := f.request(t, http.MethodGet, "/v1/items/5", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(t, http.MethodGet, "/v1/items/5/analysis", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFlagEndpoints(t *testing.T) {
	t.Run("set and list", func(t *testing.T) {
		f := newAPIFixture(t)

		rec := f.request(t, http.MethodPut, "/v1/flags/llm_analysis",
			`{"status": "canary", "rollout_percentage": 25}`)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.request(t, http.MethodGet, "/v1/flags", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var flags []map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flags))
		require.Len(t, flags, 1)
		assert.Equal(t, "canary", flags[0]["status"])
	})

	t.Run("rejects unknown statuses", func(t *testing.T) {
		f := newAPIFixture(t)

		rec := f.request(t, http.MethodPut, "/v1/flags/llm_analysis", `{"status": "maybe"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects out of range rollout", func(t *testing.T) {
		f := newAPIFixture(t)

		rec := f.request(t, http.MethodPut, "/v1/flags/llm_analysis",
			`{"status": "canary", "rollout_percentage": 140}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		f := newAPIFixture(t)

		rec := f.request(t, http.MethodGet, "/v1/health", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", decodeBody(t, rec)["status"])
	})

	t.Run("database outage is unhealthy", func(t *testing.T) {
		f := newAPIFixture(t)
		f.db.err = errors.New("connection refused")

		rec := f.request(t, http.MethodGet, "/v1/health", "")

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "unhealthy", decodeBody(t, rec)["status"])
	})

	t.Run("provider outage only degrades", func(t *testing.T) {
		f := newAPIFixture(t)
		f.provider.healthErr = errors.New("analyzer down")

		rec := f.request(t, http.MethodGet, "/v1/health", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "degraded", decodeBody(t, rec)["status"])
	})
}
