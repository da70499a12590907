package repository

import (
	"context"
	"log/slog"

	"newswatch/domain"
)

type featureFlagRepository struct {
	db     DB
	logger *slog.Logger
}

// NewFeatureFlagRepository creates a new feature flag repository.
func NewFeatureFlagRepository(db DB, logger *slog.Logger) FeatureFlagRepository {
	return &featureFlagRepository{db: db, logger: logger}
}

func (r *featureFlagRepository) GetAll(ctx context.Context) ([]*domain.FeatureFlag, error) {
	rows, err := r.db.Query(ctx,
		`SELECT name, status, rollout_percentage, updated_at FROM feature_flags ORDER BY name`)
	if err != nil {
		return nil, classifyStoreError("feature_flags.get_all", err)
	}
	defer rows.Close()

	var flags []*domain.FeatureFlag
	for rows.Next() {
		var flag domain.FeatureFlag
		if err := rows.Scan(&flag.Name, &flag.Status, &flag.RolloutPercentage, &flag.UpdatedAt); err != nil {
			return nil, classifyStoreError("feature_flags.get_all", err)
		}
		flags = append(flags, &flag)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError("feature_flags.get_all", err)
	}
	return flags, nil
}

func (r *featureFlagRepository) Upsert(ctx context.Context, flag *domain.FeatureFlag) error {
	query := `
		INSERT INTO feature_flags (name, status, rollout_percentage, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (name) DO UPDATE SET
			status = EXCLUDED.status,
			rollout_percentage = EXCLUDED.rollout_percentage,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := r.db.Exec(ctx, query, flag.Name, flag.Status, flag.RolloutPercentage); err != nil {
		return classifyStoreError("feature_flags.upsert", err)
	}

	r.logger.InfoContext(ctx, "feature flag updated",
		"flag", flag.Name, "status", flag.Status, "rollout", flag.RolloutPercentage)
	return nil
}
