package repository

import (
	"context"
	"log/slog"

	"newswatch/domain"
)

type runItemRepository struct {
	db     DB
	logger *slog.Logger
}

// NewRunItemRepository creates a new run item repository.
func NewRunItemRepository(db DB, logger *slog.Logger) RunItemRepository {
	return &runItemRepository{db: db, logger: logger}
}

func (r *runItemRepository) BulkInsert(ctx context.Context, runID int64, itemIDs []int64) error {
	if len(itemIDs) == 0 {
		return nil
	}

	query := `
		INSERT INTO analysis_run_items (run_id, item_id, state)
		SELECT $1, unnest($2::bigint[]), 'queued'
		ON CONFLICT (run_id, item_id) DO NOTHING
	`

	if _, err := r.db.Exec(ctx, query, runID, itemIDs); err != nil {
		return classifyStoreError("run_items.bulk_insert", err)
	}

	r.logger.DebugContext(ctx, "run items populated", "run_id", runID, "count", len(itemIDs))
	return nil
}

// ClaimQueued moves up to limit queued items to processing and returns them.
// Items are claimed in id-ascending order; SKIP LOCKED keeps concurrent
// dispatchers from double-claiming.
func (r *runItemRepository) ClaimQueued(ctx context.Context, runID int64, limit int) ([]*domain.AnalysisRunItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		UPDATE analysis_run_items
		SET state = 'processing', started_at = now()
		WHERE (run_id, item_id) IN (
			SELECT run_id, item_id FROM analysis_run_items
			WHERE run_id = $1 AND state = 'queued'
			ORDER BY item_id ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING run_id, item_id, state, tokens_used, cost_usd, error_message, created_at, started_at, completed_at
	`

	rows, err := r.db.Query(ctx, query, runID, limit)
	if err != nil {
		return nil, classifyStoreError("run_items.claim_queued", err)
	}
	defer rows.Close()

	var items []*domain.AnalysisRunItem
	for rows.Next() {
		var item domain.AnalysisRunItem
		err := rows.Scan(
			&item.RunID, &item.ItemID, &item.State, &item.TokensUsed,
			&item.CostUSD, &item.ErrorMessage, &item.CreatedAt,
			&item.StartedAt, &item.CompletedAt,
		)
		if err != nil {
			return nil, classifyStoreError("run_items.claim_queued", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError("run_items.claim_queued", err)
	}
	return items, nil
}

func (r *runItemRepository) Transition(ctx context.Context, runID, itemID int64, from, to domain.RunItemState, tokensUsed int, costUSD float64, errorMessage *string) (bool, error) {
	query := `
		UPDATE analysis_run_items
		SET state = $4,
		    tokens_used = tokens_used + $5,
		    cost_usd = cost_usd + $6,
		    error_message = COALESCE($7, error_message),
		    completed_at = CASE WHEN $4 IN ('completed', 'failed', 'skipped') THEN now() ELSE completed_at END
		WHERE run_id = $1 AND item_id = $2 AND state = $3
	`

	tag, err := r.db.Exec(ctx, query, runID, itemID, string(from), string(to), tokensUsed, costUSD, errorMessage)
	if err != nil {
		return false, classifyStoreError("run_items.transition", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *runItemRepository) CountByState(ctx context.Context, runID int64) (map[domain.RunItemState]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT state, count(*) FROM analysis_run_items WHERE run_id = $1 GROUP BY state`, runID)
	if err != nil {
		return nil, classifyStoreError("run_items.count_by_state", err)
	}
	defer rows.Close()

	counts := make(map[domain.RunItemState]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, classifyStoreError("run_items.count_by_state", err)
		}
		counts[domain.RunItemState(state)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError("run_items.count_by_state", err)
	}
	return counts, nil
}

func (r *runItemRepository) RequeueProcessing(ctx context.Context, runID int64) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE analysis_run_items SET state = 'queued', started_at = NULL WHERE run_id = $1 AND state = 'processing'`,
		runID)
	if err != nil {
		return 0, classifyStoreError("run_items.requeue_processing", err)
	}
	return tag.RowsAffected(), nil
}

func (r *runItemRepository) SkipQueued(ctx context.Context, runID int64) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE analysis_run_items SET state = 'skipped', completed_at = now() WHERE run_id = $1 AND state = 'queued'`,
		runID)
	if err != nil {
		return 0, classifyStoreError("run_items.skip_queued", err)
	}
	return tag.RowsAffected(), nil
}

func (r *runItemRepository) SumCost(ctx context.Context, runID int64) (float64, error) {
	var sum float64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(sum(cost_usd), 0) FROM analysis_run_items WHERE run_id = $1`, runID,
	).Scan(&sum)
	if err != nil {
		return 0, classifyStoreError("run_items.sum_cost", err)
	}
	return sum, nil
}
