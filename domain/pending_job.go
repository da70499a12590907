package domain

import "time"

// PendingJobStatus represents the state of a pending auto-analysis job.
type PendingJobStatus string

const (
	PendingJobPending    PendingJobStatus = "pending"
	PendingJobProcessing PendingJobStatus = "processing"
	PendingJobCompleted  PendingJobStatus = "completed"
	PendingJobFailed     PendingJobStatus = "failed"
	PendingJobExpired    PendingJobStatus = "expired"
)

// PendingJobTTL is how long a pending job may wait before it is expired.
const PendingJobTTL = 24 * time.Hour

// PendingAutoAnalysis is a queued batch of item ids awaiting conversion into
// an analysis run.
type PendingAutoAnalysis struct {
	ID            int64            `db:"id"`
	FeedID        int64            `db:"feed_id"`
	ItemIDs       []int64          `db:"item_ids"`
	Status        PendingJobStatus `db:"status"`
	AnalysisRunID *int64           `db:"analysis_run_id"`
	ErrorMessage  *string          `db:"error_message"`
	CreatedAt     time.Time        `db:"created_at"`
	ProcessedAt   *time.Time       `db:"processed_at"`
}
