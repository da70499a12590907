package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"newswatch/domain"
)

type pendingJobRepository struct {
	db     DB
	logger *slog.Logger
}

// NewPendingJobRepository creates a new pending auto-analysis job repository.
func NewPendingJobRepository(db DB, logger *slog.Logger) PendingJobRepository {
	return &pendingJobRepository{db: db, logger: logger}
}

func (r *pendingJobRepository) Create(ctx context.Context, feedID int64, itemIDs []int64) (int64, error) {
	if len(itemIDs) == 0 {
		return 0, fmt.Errorf("pending_jobs.create: item ids must not be empty")
	}

	query := `
		INSERT INTO pending_auto_analysis (feed_id, item_ids, status)
		VALUES ($1, $2, 'pending')
		RETURNING id
	`

	var id int64
	if err := r.db.QueryRow(ctx, query, feedID, itemIDs).Scan(&id); err != nil {
		return 0, classifyStoreError("pending_jobs.create", err)
	}

	r.logger.InfoContext(ctx, "pending auto-analysis job created",
		"job_id", id, "feed_id", feedID, "item_count", len(itemIDs))
	return id, nil
}

func (r *pendingJobRepository) ListPending(ctx context.Context, limit int) ([]*domain.PendingAutoAnalysis, error) {
	query := `
		SELECT id, feed_id, item_ids, status, analysis_run_id, error_message, created_at, processed_at
		FROM pending_auto_analysis
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, classifyStoreError("pending_jobs.list_pending", err)
	}
	defer rows.Close()

	var jobs []*domain.PendingAutoAnalysis
	for rows.Next() {
		var job domain.PendingAutoAnalysis
		err := rows.Scan(
			&job.ID, &job.FeedID, &job.ItemIDs, &job.Status,
			&job.AnalysisRunID, &job.ErrorMessage, &job.CreatedAt, &job.ProcessedAt,
		)
		if err != nil {
			return nil, classifyStoreError("pending_jobs.list_pending", err)
		}
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError("pending_jobs.list_pending", err)
	}
	return jobs, nil
}

func (r *pendingJobRepository) Transition(ctx context.Context, jobID int64, from, to domain.PendingJobStatus) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE pending_auto_analysis SET status = $3 WHERE id = $1 AND status = $2`,
		jobID, string(from), string(to))
	if err != nil {
		return false, classifyStoreError("pending_jobs.transition", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pendingJobRepository) CompleteWithRun(ctx context.Context, jobID, runID int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE pending_auto_analysis SET status = 'completed', analysis_run_id = $2, processed_at = now() WHERE id = $1`,
		jobID, runID)
	if err != nil {
		return classifyStoreError("pending_jobs.complete", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pending_jobs.complete: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *pendingJobRepository) MarkFailed(ctx context.Context, jobID int64, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE pending_auto_analysis SET status = 'failed', error_message = $2, processed_at = now() WHERE id = $1`,
		jobID, reason)
	if err != nil {
		return classifyStoreError("pending_jobs.mark_failed", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pending_jobs.mark_failed: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *pendingJobRepository) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE pending_auto_analysis SET status = 'expired', processed_at = now() WHERE status = 'pending' AND created_at < $1`,
		cutoff)
	if err != nil {
		return 0, classifyStoreError("pending_jobs.expire", err)
	}

	expired := tag.RowsAffected()
	if expired > 0 {
		r.logger.InfoContext(ctx, "expired stale pending jobs", "count", expired)
	}
	return expired, nil
}

func (r *pendingJobRepository) CountForFeedSince(ctx context.Context, feedID int64, since time.Time, statuses []domain.PendingJobStatus) (int, error) {
	states := make([]string, len(statuses))
	for i, s := range statuses {
		states[i] = string(s)
	}

	var count int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM pending_auto_analysis WHERE feed_id = $1 AND created_at >= $2 AND status = ANY($3)`,
		feedID, since, states,
	).Scan(&count)
	if err != nil {
		return 0, classifyStoreError("pending_jobs.count_for_feed", err)
	}
	return count, nil
}
