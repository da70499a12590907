package events

import (
	"context"
	"log/slog"
	"sync"
)

// FeedFetchedHandler consumes a FeedFetched event. Returned errors are logged
// by the bus; they do not affect other subscribers.
type FeedFetchedHandler func(ctx context.Context, ev FeedFetched) error

// RunStateChangedHandler consumes a RunStateChanged event.
type RunStateChangedHandler func(ctx context.Context, ev RunStateChanged)

// FlagTrippedHandler consumes a FlagTripped event.
type FlagTrippedHandler func(ctx context.Context, ev FlagTripped)

// Bus is a small synchronous in-process event bus. Publishers already run on
// their own goroutines (fetch pipeline, run manager), so handlers execute
// inline on the publisher's goroutine and the bus stays ordering-preserving:
// a subscriber sees events in the order one publisher emitted them.
type Bus struct {
	mu          sync.RWMutex
	feedFetched []FeedFetchedHandler
	runChanged  []RunStateChangedHandler
	flagTripped []FlagTrippedHandler
	logger      *slog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

// SubscribeFeedFetched registers a handler for FeedFetched events.
func (b *Bus) SubscribeFeedFetched(h FeedFetchedHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.feedFetched = append(b.feedFetched, h)
}

// SubscribeRunStateChanged registers a handler for RunStateChanged events.
func (b *Bus) SubscribeRunStateChanged(h RunStateChangedHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runChanged = append(b.runChanged, h)
}

// SubscribeFlagTripped registers a handler for FlagTripped events.
func (b *Bus) SubscribeFlagTripped(h FlagTrippedHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flagTripped = append(b.flagTripped, h)
}

// PublishFeedFetched delivers the event to every subscriber in registration
// order. Handler errors are logged and swallowed so one subscriber cannot
// break delivery to the rest.
func (b *Bus) PublishFeedFetched(ctx context.Context, ev FeedFetched) {
	b.mu.RLock()
	handlers := b.feedFetched
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			b.logger.ErrorContext(ctx, "feed fetched handler failed",
				"feed_id", ev.FeedID, "new_items", len(ev.NewItemIDs), "error", err)
		}
	}
}

// PublishRunStateChanged delivers the event to every subscriber.
func (b *Bus) PublishRunStateChanged(ctx context.Context, ev RunStateChanged) {
	b.mu.RLock()
	handlers := b.runChanged
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}

// PublishFlagTripped delivers the event to every subscriber.
func (b *Bus) PublishFlagTripped(ctx context.Context, ev FlagTripped) {
	b.mu.RLock()
	handlers := b.flagTripped
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}
