// ABOUTME: This file defines the in-process event types exchanged between pipeline stages
// ABOUTME: Events carry ids and timestamps only; consumers re-read state from the store
package events

import (
	"time"

	"newswatch/domain"
)

// FeedFetched is emitted exactly once per completed fetch log row.
type FeedFetched struct {
	FeedID     int64
	NewItemIDs []int64
	FetchedAt  time.Time
}

// RunStateChanged is emitted on every analysis run transition.
type RunStateChanged struct {
	RunID int64
	From  domain.RunStatus
	To    domain.RunStatus
	At    time.Time
}

// FlagTripped is emitted when a circuit breaker forces a flag to emergency_off.
type FlagTripped struct {
	Flag   string
	Reason string
	At     time.Time
}
