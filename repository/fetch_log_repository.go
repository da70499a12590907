package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"newswatch/domain"
)

type fetchLogRepository struct {
	db     DB
	logger *slog.Logger
}

// NewFetchLogRepository creates a new fetch log repository.
func NewFetchLogRepository(db DB, logger *slog.Logger) FetchLogRepository {
	return &fetchLogRepository{db: db, logger: logger}
}

func (r *fetchLogRepository) Start(ctx context.Context, feedID int64, startedAt time.Time) (int64, error) {
	query := `
		INSERT INTO fetch_logs (feed_id, started_at, status)
		VALUES ($1, $2, 'pending')
		RETURNING id
	`

	var id int64
	if err := r.db.QueryRow(ctx, query, feedID, startedAt).Scan(&id); err != nil {
		return 0, classifyStoreError("fetch_logs.start", err)
	}
	return id, nil
}

func (r *fetchLogRepository) Complete(ctx context.Context, log *domain.FetchLog) error {
	query := `
		UPDATE fetch_logs
		SET completed_at = $2, status = $3, items_found = $4, items_new = $5,
		    items_dropped = $6, error_message = $7, response_time_ms = $8
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query,
		log.ID, log.CompletedAt, log.Status, log.ItemsFound, log.ItemsNew,
		log.ItemsDropped, log.ErrorMessage, log.ResponseTimeMs,
	)
	if err != nil {
		return classifyStoreError("fetch_logs.complete", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fetch_logs.complete: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *fetchLogRepository) CountOutcomesSince(ctx context.Context, feedID int64, since time.Time) (int, int, error) {
	query := `
		SELECT count(*) FILTER (WHERE status = 'success'), count(*)
		FROM fetch_logs
		WHERE feed_id = $1 AND started_at >= $2 AND status <> 'pending'
	`

	var successes, attempts int
	if err := r.db.QueryRow(ctx, query, feedID, since).Scan(&successes, &attempts); err != nil {
		return 0, 0, classifyStoreError("fetch_logs.count_outcomes", err)
	}
	return successes, attempts, nil
}
