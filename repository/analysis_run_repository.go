package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"newswatch/domain"

	"github.com/jackc/pgx/v5"
)

type analysisRunRepository struct {
	db     DB
	logger *slog.Logger
}

// NewAnalysisRunRepository creates a new analysis run repository.
func NewAnalysisRunRepository(db DB, logger *slog.Logger) AnalysisRunRepository {
	return &analysisRunRepository{db: db, logger: logger}
}

const runColumns = `id, status, scope, params, queued_count, processed_count, failed_count,
	cost_estimate_usd, actual_cost_usd, last_error, created_at, confirmed_at, started_at, completed_at`

func (r *analysisRunRepository) Create(ctx context.Context, run *domain.AnalysisRun) (int64, error) {
	scopeJSON, err := run.Scope.Value()
	if err != nil {
		return 0, fmt.Errorf("analysis_runs.create: %w", err)
	}
	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return 0, fmt.Errorf("analysis_runs.create: %w", err)
	}

	query := `
		INSERT INTO analysis_runs (status, scope, params, queued_count, cost_estimate_usd)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	err = r.db.QueryRow(ctx, query,
		run.Status, scopeJSON, paramsJSON, run.QueuedCount, run.CostEstimateUSD,
	).Scan(&id)
	if err != nil {
		return 0, classifyStoreError("analysis_runs.create", err)
	}

	r.logger.InfoContext(ctx, "analysis run created",
		"run_id", id,
		"scope", run.Scope.Kind,
		"triggered_by", run.Params.TriggeredBy)
	return id, nil
}

func (r *analysisRunRepository) GetByID(ctx context.Context, id int64) (*domain.AnalysisRun, error) {
	row := r.db.QueryRow(ctx, `SELECT `+runColumns+` FROM analysis_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		return nil, classifyStoreError("analysis_runs.get", err)
	}
	return run, nil
}

// Transition is the single CAS primitive for run state. The matching
// lifecycle timestamp is stamped in the same statement so readers never see
// a state without its timestamp.
func (r *analysisRunRepository) Transition(ctx context.Context, runID int64, fromStates []domain.RunStatus, to domain.RunStatus) (bool, error) {
	from := make([]string, len(fromStates))
	for i, s := range fromStates {
		from[i] = string(s)
	}

	query := `
		UPDATE analysis_runs
		SET status = $2,
		    confirmed_at = CASE WHEN $2 = 'queued' THEN now() ELSE confirmed_at END,
		    started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
		    completed_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN now() ELSE completed_at END
		WHERE id = $1 AND status = ANY($3)
	`

	tag, err := r.db.Exec(ctx, query, runID, string(to), from)
	if err != nil {
		return false, classifyStoreError("analysis_runs.transition", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *analysisRunRepository) IncrementCounters(ctx context.Context, runID int64, processedDelta, failedDelta int, costDelta float64) error {
	query := `
		UPDATE analysis_runs
		SET processed_count = processed_count + $2,
		    failed_count = failed_count + $3,
		    queued_count = queued_count - ($2 + $3),
		    actual_cost_usd = actual_cost_usd + $4
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, runID, processedDelta, failedDelta, costDelta)
	if err != nil {
		return classifyStoreError("analysis_runs.increment_counters", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("analysis_runs.increment_counters: %w", domain.ErrRunNotFound)
	}
	return nil
}

func (r *analysisRunRepository) SetQueuedCount(ctx context.Context, runID int64, queued int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE analysis_runs SET queued_count = $2 WHERE id = $1`, runID, queued)
	if err != nil {
		return classifyStoreError("analysis_runs.set_queued_count", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("analysis_runs.set_queued_count: %w", domain.ErrRunNotFound)
	}
	return nil
}

func (r *analysisRunRepository) SetLastError(ctx context.Context, runID int64, message string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE analysis_runs SET last_error = $2 WHERE id = $1`, runID, message)
	if err != nil {
		return classifyStoreError("analysis_runs.set_last_error", err)
	}
	return nil
}

func (r *analysisRunRepository) SetActualCost(ctx context.Context, runID int64, cost float64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE analysis_runs SET actual_cost_usd = $2 WHERE id = $1`, runID, cost)
	if err != nil {
		return classifyStoreError("analysis_runs.set_actual_cost", err)
	}
	return nil
}

func (r *analysisRunRepository) ListByStatus(ctx context.Context, statuses ...domain.RunStatus) ([]*domain.AnalysisRun, error) {
	states := make([]string, len(statuses))
	for i, s := range statuses {
		states[i] = string(s)
	}

	query := `SELECT ` + runColumns + ` FROM analysis_runs WHERE status = ANY($1) ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, states)
	if err != nil {
		return nil, classifyStoreError("analysis_runs.list_by_status", err)
	}
	defer rows.Close()

	var runs []*domain.AnalysisRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, classifyStoreError("analysis_runs.list_by_status", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError("analysis_runs.list_by_status", err)
	}
	return runs, nil
}

func (r *analysisRunRepository) CountConfirmedSince(ctx context.Context, since time.Time, triggeredBy *domain.TriggeredBy) (int, error) {
	query := `SELECT count(*) FROM analysis_runs WHERE confirmed_at >= $1`
	args := []any{since}
	if triggeredBy != nil {
		query += ` AND params->>'triggered_by' = $2`
		args = append(args, string(*triggeredBy))
	}

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, classifyStoreError("analysis_runs.count_confirmed", err)
	}
	return count, nil
}

func (r *analysisRunRepository) CountStartedSince(ctx context.Context, since time.Time, triggeredBy *domain.TriggeredBy) (int, error) {
	query := `SELECT count(*) FROM analysis_runs WHERE started_at >= $1`
	args := []any{since}
	if triggeredBy != nil {
		query += ` AND params->>'triggered_by' = $2`
		args = append(args, string(*triggeredBy))
	}

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, classifyStoreError("analysis_runs.count_started", err)
	}
	return count, nil
}

func scanRun(row pgx.Row) (*domain.AnalysisRun, error) {
	var (
		run        domain.AnalysisRun
		scopeJSON  []byte
		paramsJSON []byte
	)
	err := row.Scan(
		&run.ID, &run.Status, &scopeJSON, &paramsJSON,
		&run.QueuedCount, &run.ProcessedCount, &run.FailedCount,
		&run.CostEstimateUSD, &run.ActualCostUSD, &run.LastError,
		&run.CreatedAt, &run.ConfirmedAt, &run.StartedAt, &run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if run.Scope, err = domain.ScanScope(scopeJSON); err != nil {
		return nil, err
	}
	if err = json.Unmarshal(paramsJSON, &run.Params); err != nil {
		return nil, fmt.Errorf("failed to decode run params: %w", err)
	}
	return &run, nil
}
