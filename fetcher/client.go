// ABOUTME: This file implements the conditional-GET feed HTTP client
// ABOUTME: Honors ETag/If-Modified-Since and classifies transport failures
package fetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"newswatch/config"
	"newswatch/domain"
)

// HTTPStatusError marks a non-2xx response so the pipeline can decide whether
// the failure deserves backoff.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.StatusCode, e.URL)
}

// Retryable reports whether the status warrants exponential backoff.
// 5xx and 429 back off; other 4xx keep the normal schedule.
func (e *HTTPStatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// ParseError marks a response that arrived but could not be parsed as a feed.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse feed %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FetchResult is the outcome of one conditional GET.
type FetchResult struct {
	Feed         *gofeed.Feed
	NotModified  bool
	ETag         string
	LastModified string
	StatusCode   int
}

// FeedClient fetches and parses one feed URL with conditional request
// headers taken from the feed row.
type FeedClient interface {
	Fetch(ctx context.Context, feed *domain.Feed) (*FetchResult, error)
}

type feedClient struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	parser    *gofeed.Parser
	logger    *slog.Logger
}

// NewFeedClient builds the shared feed HTTP client from HTTP config.
func NewFeedClient(cfg config.HTTPConfig, logger *slog.Logger) FeedClient {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
	}

	return &feedClient{
		client:    &http.Client{Transport: transport},
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		parser:    gofeed.NewParser(),
		logger:    logger,
	}
}

func (c *feedClient) Fetch(ctx context.Context, feed *domain.Feed) (*FetchResult, error) {
	timeout := c.timeout
	if feed.HTTPTimeoutOverride != nil && *feed.HTTPTimeoutOverride > 0 {
		timeout = time.Duration(*feed.HTTPTimeoutOverride) * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")
	if feed.ETag != nil && *feed.ETag != "" {
		req.Header.Set("If-None-Match", *feed.ETag)
	}
	if feed.LastModifiedHeader != nil && *feed.LastModifiedHeader != "" {
		req.Header.Set("If-Modified-Since", *feed.LastModifiedHeader)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", feed.URL, err)
	}
	defer resp.Body.Close()

	result := &FetchResult{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		StatusCode:   resp.StatusCode,
	}

	if resp.StatusCode == http.StatusNotModified {
		result.NotModified = true
		c.logger.DebugContext(ctx, "feed not modified", "feed_id", feed.ID, "url", feed.URL)
		return result, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, URL: feed.URL}
	}

	parsed, err := c.parser.Parse(resp.Body)
	if err != nil {
		return nil, &ParseError{URL: feed.URL, Err: err}
	}

	result.Feed = parsed
	return result, nil
}

// IsRetryableFetchError reports whether the fetch failure should trigger
// exponential backoff on the feed's schedule. Network errors, timeouts, 5xx
// and 429 back off; 4xx and parse errors keep the normal interval.
func IsRetryableFetchError(err error) bool {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return false
	}
	// Anything else at this level is a transport failure.
	return true
}
