package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"newswatch/domain"
)

type itemAnalysisRepository struct {
	db     DB
	logger *slog.Logger
}

// NewItemAnalysisRepository creates a new item analysis repository.
func NewItemAnalysisRepository(db DB, logger *slog.Logger) ItemAnalysisRepository {
	return &itemAnalysisRepository{db: db, logger: logger}
}

// Upsert overwrites any previous analysis for the item. Latest wins.
func (r *itemAnalysisRepository) Upsert(ctx context.Context, analysis *domain.ItemAnalysis) error {
	sentimentJSON, err := json.Marshal(analysis.Sentiment)
	if err != nil {
		return fmt.Errorf("item_analysis.upsert: %w", err)
	}
	impactJSON, err := json.Marshal(analysis.Impact)
	if err != nil {
		return fmt.Errorf("item_analysis.upsert: %w", err)
	}

	query := `
		INSERT INTO item_analysis (item_id, sentiment_json, impact_json, model_tag, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (item_id) DO UPDATE SET
			sentiment_json = EXCLUDED.sentiment_json,
			impact_json = EXCLUDED.impact_json,
			model_tag = EXCLUDED.model_tag,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := r.db.Exec(ctx, query, analysis.ItemID, sentimentJSON, impactJSON, analysis.ModelTag); err != nil {
		return classifyStoreError("item_analysis.upsert", err)
	}
	return nil
}

func (r *itemAnalysisRepository) Get(ctx context.Context, itemID int64) (*domain.ItemAnalysis, error) {
	query := `
		SELECT item_id, sentiment_json, impact_json, model_tag, updated_at
		FROM item_analysis WHERE item_id = $1
	`

	var (
		analysis      domain.ItemAnalysis
		sentimentJSON []byte
		impactJSON    []byte
	)
	err := r.db.QueryRow(ctx, query, itemID).Scan(
		&analysis.ItemID, &sentimentJSON, &impactJSON, &analysis.ModelTag, &analysis.UpdatedAt,
	)
	if err != nil {
		return nil, classifyStoreError("item_analysis.get", err)
	}

	if err := json.Unmarshal(sentimentJSON, &analysis.Sentiment); err != nil {
		return nil, fmt.Errorf("item_analysis.get: failed to decode sentiment: %w", err)
	}
	if err := json.Unmarshal(impactJSON, &analysis.Impact); err != nil {
		return nil, fmt.Errorf("item_analysis.get: failed to decode impact: %w", err)
	}
	return &analysis, nil
}
