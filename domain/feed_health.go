package domain

import "time"

// FeedHealth tracks rolling fetch quality for one feed. Exactly one row per
// feed, created eagerly when the feed is registered.
type FeedHealth struct {
	FeedID              int64      `db:"feed_id" json:"feed_id"`
	OKRatio             float64    `db:"ok_ratio" json:"ok_ratio"`
	ConsecutiveFailures int        `db:"consecutive_failures" json:"consecutive_failures"`
	AvgResponseTimeMs   float64    `db:"avg_response_time_ms" json:"avg_response_time_ms"`
	LastSuccessAt       *time.Time `db:"last_success_at" json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `db:"last_failure_at" json:"last_failure_at,omitempty"`
	Uptime24h           float64    `db:"uptime_24h" json:"uptime_24h"`
	Uptime7d            float64    `db:"uptime_7d" json:"uptime_7d"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// HealthEWMAWindow is the effective sample count of the ok_ratio EWMA.
const HealthEWMAWindow = 50

// RecordAttempt folds one fetch outcome into the health snapshot using an
// EWMA over the last HealthEWMAWindow attempts.
func (h *FeedHealth) RecordAttempt(success bool, responseTimeMs int64, at time.Time) {
	alpha := 2.0 / (HealthEWMAWindow + 1)

	observed := 0.0
	if success {
		observed = 1.0
	}
	h.OKRatio = h.OKRatio*(1-alpha) + observed*alpha
	if h.OKRatio < 0 {
		h.OKRatio = 0
	}
	if h.OKRatio > 1 {
		h.OKRatio = 1
	}

	h.AvgResponseTimeMs = h.AvgResponseTimeMs*(1-alpha) + float64(responseTimeMs)*alpha

	if success {
		h.ConsecutiveFailures = 0
		t := at
		h.LastSuccessAt = &t
	} else {
		h.ConsecutiveFailures++
		t := at
		h.LastFailureAt = &t
	}
	h.UpdatedAt = at
}
