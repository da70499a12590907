package domain

import "time"

// ItemAnalysis is the one-to-one analysis result for an item. Upsert-only;
// re-analysis overwrites the previous document (latest wins).
type ItemAnalysis struct {
	ItemID    int64     `db:"item_id" json:"item_id"`
	Sentiment Sentiment `db:"sentiment_json" json:"sentiment"`
	Impact    Impact    `db:"impact_json" json:"impact"`
	ModelTag  string    `db:"model_tag" json:"model_tag"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
