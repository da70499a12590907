package domain

import "time"

// RunStatus represents the lifecycle state of an analysis run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// TriggeredBy identifies how a run was created. Daily caps are tracked
// separately for manual and auto runs.
type TriggeredBy string

const (
	TriggeredByManual    TriggeredBy = "manual"
	TriggeredByAuto      TriggeredBy = "auto"
	TriggeredByScheduled TriggeredBy = "scheduled"
)

// RunParams carries the tunables fixed at preview time.
type RunParams struct {
	ModelTag         string      `json:"model_tag"`
	RatePerSecond    float64     `json:"rate_per_second"`
	Limit            int         `json:"limit"`
	OverrideExisting bool        `json:"override_existing"`
	TriggeredBy      TriggeredBy `json:"triggered_by"`
}

// AnalysisRun is a bounded batch of LLM analyses over a resolved item set.
// The item set is fixed at preview time; params at execute time never drift.
type AnalysisRun struct {
	ID              int64      `db:"id" json:"id"`
	Status          RunStatus  `db:"status" json:"status"`
	Scope           RunScope   `db:"scope" json:"scope"`
	Params          RunParams  `db:"params" json:"params"`
	QueuedCount     int        `db:"queued_count" json:"queued_count"`
	ProcessedCount  int        `db:"processed_count" json:"processed_count"`
	FailedCount     int        `db:"failed_count" json:"failed_count"`
	CostEstimateUSD float64    `db:"cost_estimate_usd" json:"cost_estimate_usd"`
	ActualCostUSD   float64    `db:"actual_cost_usd" json:"actual_cost_usd"`
	LastError       *string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	ConfirmedAt     *time.Time `db:"confirmed_at" json:"confirmed_at,omitempty"`
	StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// TotalItems is the size of the resolved item set.
func (r *AnalysisRun) TotalItems() int {
	return r.QueuedCount + r.ProcessedCount + r.FailedCount
}

// runTransitions enumerates the legal state machine edges. Transitions are
// monotonic: no state is ever skipped and terminal states are absorbing.
var runTransitions = map[RunStatus][]RunStatus{
	RunStatusPending: {RunStatusQueued, RunStatusCompleted},
	RunStatusQueued:  {RunStatusRunning, RunStatusCancelled, RunStatusPaused},
	RunStatusRunning: {RunStatusPaused, RunStatusCancelled, RunStatusCompleted, RunStatusFailed},
	RunStatusPaused:  {RunStatusRunning, RunStatusCancelled},
}

// CanTransition reports whether from → to is a legal run transition.
func CanTransition(from, to RunStatus) bool {
	for _, next := range runTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
