package domain

import "time"

// FeedStatus represents the lifecycle status of a feed.
type FeedStatus string

const (
	FeedStatusActive   FeedStatus = "active"
	FeedStatusInactive FeedStatus = "inactive"
	FeedStatusError    FeedStatus = "error"
)

// Feed represents a registered RSS/Atom source.
type Feed struct {
	ID                  int64      `db:"id" json:"id"`
	URL                 string     `db:"url" json:"url"`
	Title               string     `db:"title" json:"title"`
	Status              FeedStatus `db:"status" json:"status"`
	FetchIntervalMin    int        `db:"fetch_interval_minutes" json:"fetch_interval_minutes"`
	LastFetchedAt       *time.Time `db:"last_fetched_at" json:"last_fetched_at,omitempty"`
	NextFetchAt         time.Time  `db:"next_fetch_at" json:"next_fetch_at"`
	AutoAnalyzeEnabled  bool       `db:"auto_analyze_enabled" json:"auto_analyze_enabled"`
	SourceRef           *string    `db:"source_ref" json:"source_ref,omitempty"`
	TypeRef             *string    `db:"type_ref" json:"type_ref,omitempty"`
	ETag                *string    `db:"etag" json:"etag,omitempty"`
	LastModifiedHeader  *string    `db:"last_modified_header" json:"last_modified_header,omitempty"`
	HTTPTimeoutOverride *int       `db:"http_timeout_seconds" json:"http_timeout_seconds,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
}

// FetchInterval returns the fetch interval as a duration. Intervals below
// one minute are clamped to one minute.
func (f *Feed) FetchInterval() time.Duration {
	if f.FetchIntervalMin < 1 {
		return time.Minute
	}
	return time.Duration(f.FetchIntervalMin) * time.Minute
}

// IsFetchable reports whether the scheduler may claim this feed.
func (f *Feed) IsFetchable() bool {
	return f.Status == FeedStatusActive
}
