package domain

import "time"

// Item represents a normalized news article persisted once per content hash.
// Items are immutable after creation.
type Item struct {
	ID          int64      `db:"id" json:"id"`
	FeedID      int64      `db:"feed_id" json:"feed_id"`
	Title       string     `db:"title" json:"title"`
	Link        string     `db:"link" json:"link"`
	Description string     `db:"description" json:"description,omitempty"`
	Content     string     `db:"content" json:"content,omitempty"`
	Author      string     `db:"author" json:"author,omitempty"`
	GUID        string     `db:"guid" json:"guid,omitempty"`
	PublishedAt *time.Time `db:"published_at" json:"published_at,omitempty"`
	ContentHash string     `db:"content_hash" json:"content_hash"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// IsValid reports whether the entry carries enough identity to persist.
// Entries missing both title and link are dropped by the fetch pipeline.
func (i *Item) IsValid() bool {
	return i.Title != "" || i.Link != ""
}
