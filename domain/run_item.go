package domain

import "time"

// RunItemState represents the state of one item within an analysis run.
type RunItemState string

const (
	RunItemQueued     RunItemState = "queued"
	RunItemProcessing RunItemState = "processing"
	RunItemCompleted  RunItemState = "completed"
	RunItemFailed     RunItemState = "failed"
	RunItemSkipped    RunItemState = "skipped"
)

// IsTerminal reports whether the state admits no further transitions.
func (s RunItemState) IsTerminal() bool {
	return s == RunItemCompleted || s == RunItemFailed || s == RunItemSkipped
}

// AnalysisRunItem tracks one (run, item) pair. Unique on (run_id, item_id).
type AnalysisRunItem struct {
	RunID        int64        `db:"run_id"`
	ItemID       int64        `db:"item_id"`
	State        RunItemState `db:"state"`
	TokensUsed   int          `db:"tokens_used"`
	CostUSD      float64      `db:"cost_usd"`
	ErrorMessage *string      `db:"error_message"`
	CreatedAt    time.Time    `db:"created_at"`
	StartedAt    *time.Time   `db:"started_at"`
	CompletedAt  *time.Time   `db:"completed_at"`
}
