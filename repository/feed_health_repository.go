package repository

import (
	"context"
	"log/slog"

	"newswatch/domain"
)

type feedHealthRepository struct {
	db     DB
	logger *slog.Logger
}

// NewFeedHealthRepository creates a new feed health repository.
func NewFeedHealthRepository(db DB, logger *slog.Logger) FeedHealthRepository {
	return &feedHealthRepository{db: db, logger: logger}
}

func (r *feedHealthRepository) Get(ctx context.Context, feedID int64) (*domain.FeedHealth, error) {
	query := `
		SELECT feed_id, ok_ratio, consecutive_failures, avg_response_time_ms,
		       last_success_at, last_failure_at, uptime_24h, uptime_7d, updated_at
		FROM feed_health WHERE feed_id = $1
	`

	var health domain.FeedHealth
	err := r.db.QueryRow(ctx, query, feedID).Scan(
		&health.FeedID, &health.OKRatio, &health.ConsecutiveFailures,
		&health.AvgResponseTimeMs, &health.LastSuccessAt, &health.LastFailureAt,
		&health.Uptime24h, &health.Uptime7d, &health.UpdatedAt,
	)
	if err != nil {
		return nil, classifyStoreError("feed_health.get", err)
	}
	return &health, nil
}

func (r *feedHealthRepository) Upsert(ctx context.Context, health *domain.FeedHealth) error {
	query := `
		INSERT INTO feed_health (feed_id, ok_ratio, consecutive_failures, avg_response_time_ms,
		                         last_success_at, last_failure_at, uptime_24h, uptime_7d, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (feed_id) DO UPDATE SET
			ok_ratio = EXCLUDED.ok_ratio,
			consecutive_failures = EXCLUDED.consecutive_failures,
			avg_response_time_ms = EXCLUDED.avg_response_time_ms,
			last_success_at = EXCLUDED.last_success_at,
			last_failure_at = EXCLUDED.last_failure_at,
			uptime_24h = EXCLUDED.uptime_24h,
			uptime_7d = EXCLUDED.uptime_7d,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Exec(ctx, query,
		health.FeedID, health.OKRatio, health.ConsecutiveFailures,
		health.AvgResponseTimeMs, health.LastSuccessAt, health.LastFailureAt,
		health.Uptime24h, health.Uptime7d, health.UpdatedAt,
	)
	if err != nil {
		return classifyStoreError("feed_health.upsert", err)
	}
	return nil
}
