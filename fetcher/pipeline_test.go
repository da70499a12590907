package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newswatch/domain"
	"newswatch/events"
	"newswatch/metrics"
	"newswatch/retry"
)

type stubItemStore struct {
	existing map[string]int64
	nextID   int64
	upserts  int
	failures int
}

func (s *stubItemStore) UpsertByContentHash(ctx context.Context, item *domain.Item) (int64, bool, error) {
	s.upserts++
	if s.failures > 0 {
		s.failures--
		return 0, false, domain.NewTransientStoreError("items.upsert", errors.New("deadlock"))
	}
	if id, ok := s.existing[item.ContentHash]; ok {
		return id, false, nil
	}
	s.nextID++
	if s.existing == nil {
		s.existing = map[string]int64{}
	}
	s.existing[item.ContentHash] = s.nextID
	return s.nextID, true, nil
}

func (s *stubItemStore) GetByID(ctx context.Context, id int64) (*domain.Item, error) {
	return nil, domain.ErrNotFound
}

func (s *stubItemStore) ResolveScope(ctx context.Context, scope domain.RunScope, limit int, skipAnalyzed bool) ([]int64, error) {
	return nil, nil
}

func (s *stubItemStore) CountAnalyzed(ctx context.Context, itemIDs []int64) (int, error) {
	return 0, nil
}

type stubFetchLogStore struct {
	started   int
	completed []*domain.FetchLog
}

func (s *stubFetchLogStore) Start(ctx context.Context, feedID int64, startedAt time.Time) (int64, error) {
	s.started++
	return int64(s.started), nil
}

func (s *stubFetchLogStore) Complete(ctx context.Context, log *domain.FetchLog) error {
	s.completed = append(s.completed, log)
	return nil
}

func (s *stubFetchLogStore) CountOutcomesSince(ctx context.Context, feedID int64, since time.Time) (int, int, error) {
	return 1, 1, nil
}

type stubHealthStore struct {
	health *domain.FeedHealth
}

func (s *stubHealthStore) Get(ctx context.Context, feedID int64) (*domain.FeedHealth, error) {
	if s.health == nil {
		return nil, domain.ErrNotFound
	}
	return s.health, nil
}

func (s *stubHealthStore) Upsert(ctx context.Context, health *domain.FeedHealth) error {
	s.health = health
	return nil
}

type stubFeedClient struct {
	result *FetchResult
	err    error
}

func (s *stubFeedClient) Fetch(ctx context.Context, feed *domain.Feed) (*FetchResult, error) {
	return s.result, s.err
}

func feedEntry(guid, title, link string) *gofeed.Item {
	return &gofeed.Item{GUID: guid, Title: title, Link: link}
}

func newTestPipeline(items *stubItemStore, logs *stubFetchLogStore, health *stubHealthStore, client FeedClient, bus *events.Bus) *Pipeline {
	logger := testClientLogger()
	retrier := retry.NewRetrier(retry.Config{
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}, domain.IsRetryableStore, logger)

	return NewPipeline(items, logs, health, client, NewHostRateLimiter(0), bus, retrier, metrics.New(), logger)
}

func TestPipeline_Run(t *testing.T) {
	t.Run("persists new items and publishes the event", func(t *testing.T) {
		items := &stubItemStore{}
		logs := &stubFetchLogStore{}
		health := &stubHealthStore{}
		client := &stubFeedClient{result: &FetchResult{
			Feed: &gofeed.Feed{Items: []*gofeed.Item{
				feedEntry("g1", "One", "https://example.com/1"),
				feedEntry("g2", "Two", "https://example.com/2"),
			}},
			ETag: `"v2"`,
		}}

		logger := testClientLogger()
		bus := events.NewBus(logger)
		var published []events.FeedFetched
		bus.SubscribeFeedFetched(func(ctx context.Context, ev events.FeedFetched) error {
			published = append(published, ev)
			return nil
		})

		pipeline := newTestPipeline(items, logs, health, client, bus)
		result, err := pipeline.Run(context.Background(), &domain.Feed{ID: 1, URL: "https://example.com/feed"})

		require.NoError(t, err)
		assert.Equal(t, domain.FetchStatusSuccess, result.Status)
		assert.Equal(t, 2, result.ItemsFound)
		assert.Equal(t, 2, result.ItemsNew)
		assert.Len(t, result.NewItemIDs, 2)
		require.NotNil(t, result.ETag)
		assert.Equal(t, `"v2"`, *result.ETag)

		require.Len(t, published, 1)
		assert.Equal(t, int64(1), published[0].FeedID)
		assert.Equal(t, result.NewItemIDs, published[0].NewItemIDs)

		require.Len(t, logs.completed, 1)
		assert.Equal(t, domain.FetchStatusSuccess, logs.completed[0].Status)
	})

	t.Run("deduplicates by content hash", func(t *testing.T) {
		items := &stubItemStore{}
		logs := &stubFetchLogStore{}
		health := &stubHealthStore{}
		entry := feedEntry("same-guid", "One", "https://example.com/1")
		client := &stubFeedClient{result: &FetchResult{
			Feed: &gofeed.Feed{Items: []*gofeed.Item{entry}},
		}}

		pipeline := newTestPipeline(items, logs, health, client, events.NewBus(testClientLogger()))
		feed := &domain.Feed{ID: 1, URL: "https://example.com/feed"}

		first, err := pipeline.Run(context.Background(), feed)
		require.NoError(t, err)
		assert.Equal(t, 1, first.ItemsNew)

		second, err := pipeline.Run(context.Background(), feed)
		require.NoError(t, err)
		assert.Equal(t, 1, second.ItemsFound)
		assert.Equal(t, 0, second.ItemsNew)
		assert.Empty(t, second.NewItemIDs)
	})

	t.Run("drops entries without identity", func(t *testing.T) {
		items := &stubItemStore{}
		logs := &stubFetchLogStore{}
		health := &stubHealthStore{}
		client := &stubFeedClient{result: &FetchResult{
			Feed: &gofeed.Feed{Items: []*gofeed.Item{
				feedEntry("", "", ""),
				feedEntry("g1", "Valid", "https://example.com/1"),
			}},
		}}

		pipeline := newTestPipeline(items, logs, health, client, events.NewBus(testClientLogger()))
		result, err := pipeline.Run(context.Background(), &domain.Feed{ID: 1, URL: "https://example.com/feed"})

		require.NoError(t, err)
		assert.Equal(t, 1, result.ItemsDropped)
		assert.Equal(t, 1, result.ItemsFound)
		assert.Equal(t, 1, result.ItemsNew)
	})

	t.Run("transient store errors are retried", func(t *testing.T) {
		items := &stubItemStore{failures: 1}
		logs := &stubFetchLogStore{}
		health := &stubHealthStore{}
		client := &stubFeedClient{result: &FetchResult{
			Feed: &gofeed.Feed{Items: []*gofeed.Item{
				feedEntry("g1", "One", "https://example.com/1"),
			}},
		}}

		pipeline := newTestPipeline(items, logs, health, client, events.NewBus(testClientLogger()))
		result, err := pipeline.Run(context.Background(), &domain.Feed{ID: 1, URL: "https://example.com/feed"})

		require.NoError(t, err)
		assert.Equal(t, domain.FetchStatusSuccess, result.Status)
		assert.Equal(t, 1, result.ItemsNew)
		assert.Equal(t, 2, items.upserts)
	})

	t.Run("not modified fetches persist nothing", func(t *testing.T) {
		items := &stubItemStore{}
		logs := &stubFetchLogStore{}
		health := &stubHealthStore{}
		client := &stubFeedClient{result: &FetchResult{NotModified: true, ETag: `"v1"`}}

		logger := testClientLogger()
		bus := events.NewBus(logger)
		var published int
		bus.SubscribeFeedFetched(func(ctx context.Context, ev events.FeedFetched) error {
			published++
			return nil
		})

		pipeline := newTestPipeline(items, logs, health, client, bus)
		result, err := pipeline.Run(context.Background(), &domain.Feed{ID: 1, URL: "https://example.com/feed"})

		require.NoError(t, err)
		assert.Equal(t, domain.FetchStatusSuccess, result.Status)
		assert.Zero(t, result.ItemsFound)
		assert.Zero(t, items.upserts)
		// An unchanged feed still counts as a successful fetch.
		assert.Equal(t, 1, published)
	})

	t.Run("retryable failures request backoff", func(t *testing.T) {
		items := &stubItemStore{}
		logs := &stubFetchLogStore{}
		health := &stubHealthStore{}
		client := &stubFeedClient{err: &HTTPStatusError{StatusCode: 503, URL: "https://example.com/feed"}}

		pipeline := newTestPipeline(items, logs, health, client, events.NewBus(testClientLogger()))
		result, err := pipeline.Run(context.Background(), &domain.Feed{ID: 1, URL: "https://example.com/feed"})

		require.NoError(t, err)
		assert.Equal(t, domain.FetchStatusFailure, result.Status)
		assert.True(t, result.Backoff)
		assert.Equal(t, 1, result.ConsecutiveFailures)
		require.Len(t, logs.completed, 1)
		require.NotNil(t, logs.completed[0].ErrorMessage)
	})

	t.Run("client 404 keeps the schedule", func(t *testing.T) {
		items := &stubItemStore{}
		logs := &stubFetchLogStore{}
		health := &stubHealthStore{}
		client := &stubFeedClient{err: &HTTPStatusError{StatusCode: 404, URL: "https://example.com/feed"}}

		pipeline := newTestPipeline(items, logs, health, client, events.NewBus(testClientLogger()))
		result, err := pipeline.Run(context.Background(), &domain.Feed{ID: 1, URL: "https://example.com/feed"})

		require.NoError(t, err)
		assert.Equal(t, domain.FetchStatusFailure, result.Status)
		assert.False(t, result.Backoff)
	})

	t.Run("parse failures are recorded as partial", func(t *testing.T) {
		items := &stubItemStore{}
		logs := &stubFetchLogStore{}
		health := &stubHealthStore{}
		client := &stubFeedClient{err: &ParseError{URL: "https://example.com/feed", Err: errors.New("bad xml")}}

		pipeline := newTestPipeline(items, logs, health, client, events.NewBus(testClientLogger()))
		result, err := pipeline.Run(context.Background(), &domain.Feed{ID: 1, URL: "https://example.com/feed"})

		require.NoError(t, err)
		assert.Equal(t, domain.FetchStatusPartial, result.Status)
		assert.False(t, result.Backoff)
	})

	t.Run("abandoned host wait leaves no log row", func(t *testing.T) {
		items := &stubItemStore{}
		logs := &stubFetchLogStore{}
		health := &stubHealthStore{}
		client := &stubFeedClient{result: &FetchResult{Feed: &gofeed.Feed{}}}

		logger := testClientLogger()
		retrier := retry.NewRetrier(retry.Config{
			MaxAttempts:   1,
			BaseDelay:     time.Millisecond,
			MaxDelay:      time.Millisecond,
			BackoffFactor: 2,
		}, domain.IsRetryableStore, logger)
		hosts := NewHostRateLimiter(time.Hour)
		pipeline := NewPipeline(items, logs, health, client, hosts, events.NewBus(logger), retrier, metrics.New(), logger)

		feed := &domain.Feed{ID: 1, URL: "https://example.com/feed"}
		require.NoError(t, hosts.WaitForHost(context.Background(), feed.URL))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := pipeline.Run(ctx, feed)
		require.Error(t, err)
		assert.Zero(t, logs.started)
		assert.Empty(t, logs.completed)
	})

	t.Run("consecutive failures accumulate in feed health", func(t *testing.T) {
		items := &stubItemStore{}
		logs := &stubFetchLogStore{}
		health := &stubHealthStore{}
		client := &stubFeedClient{err: &HTTPStatusError{StatusCode: 500, URL: "https://example.com/feed"}}

		pipeline := newTestPipeline(items, logs, health, client, events.NewBus(testClientLogger()))
		feed := &domain.Feed{ID: 1, URL: "https://example.com/feed"}

		for i := 1; i <= 3; i++ {
			result, err := pipeline.Run(context.Background(), feed)
			require.NoError(t, err)
			assert.Equal(t, i, result.ConsecutiveFailures)
		}
	})
}
