package domain

import "time"

// FetchStatus represents the outcome of a single fetch attempt.
type FetchStatus string

const (
	FetchStatusPending FetchStatus = "pending"
	FetchStatusSuccess FetchStatus = "success"
	FetchStatusPartial FetchStatus = "partial"
	FetchStatusFailure FetchStatus = "failure"
)

// FetchLog records one fetch attempt for one feed. Append-only.
type FetchLog struct {
	ID             int64       `db:"id"`
	FeedID         int64       `db:"feed_id"`
	StartedAt      time.Time   `db:"started_at"`
	CompletedAt    *time.Time  `db:"completed_at"`
	Status         FetchStatus `db:"status"`
	ItemsFound     int         `db:"items_found"`
	ItemsNew       int         `db:"items_new"`
	ItemsDropped   int         `db:"items_dropped"`
	ErrorMessage   *string     `db:"error_message"`
	ResponseTimeMs int64       `db:"response_time_ms"`
}

// IsSuccess reports whether the attempt produced a usable result.
// Partial fetches keep their parsed items and count as success for
// feed health purposes only when at least one item was found.
func (l *FetchLog) IsSuccess() bool {
	return l.Status == FetchStatusSuccess
}
