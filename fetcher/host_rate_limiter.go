// ABOUTME: This file spaces outbound fetches per remote host
// ABOUTME: One scheduler tick must not hammer an origin serving many feeds
package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostRateLimiter hands out one fetch token per host per interval. Hosts are
// discovered lazily; a zero interval disables throttling.
type HostRateLimiter struct {
	mu       sync.Mutex
	perHost  map[string]*rate.Limiter
	interval time.Duration
}

func NewHostRateLimiter(interval time.Duration) *HostRateLimiter {
	return &HostRateLimiter{
		perHost:  make(map[string]*rate.Limiter),
		interval: interval,
	}
}

// WaitForHost blocks until the feed's host has a token free or the context
// ends.
func (h *HostRateLimiter) WaitForHost(ctx context.Context, feedURL string) error {
	u, err := url.Parse(feedURL)
	if err != nil {
		return fmt.Errorf("host limiter: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("host limiter: url %q has no host", feedURL)
	}

	h.mu.Lock()
	limiter, ok := h.perHost[u.Host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(h.interval), 1)
		h.perHost[u.Host] = limiter
	}
	h.mu.Unlock()

	return limiter.Wait(ctx)
}
