package repository

import (
	"context"
	"fmt"
	"log/slog"

	"newswatch/domain"

	"github.com/jackc/pgx/v5"
)

type itemRepository struct {
	db     DB
	logger *slog.Logger
}

// NewItemRepository creates a new item repository.
func NewItemRepository(db DB, logger *slog.Logger) ItemRepository {
	return &itemRepository{db: db, logger: logger}
}

// UpsertByContentHash inserts the item unless the content hash is already
// present. The two-step form (insert, then lookup on conflict) keeps the
// insert path a single round trip for the common new-item case.
func (r *itemRepository) UpsertByContentHash(ctx context.Context, item *domain.Item) (int64, bool, error) {
	insert := `
		INSERT INTO items (feed_id, title, link, description, content, author, guid, published_at, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (content_hash) DO NOTHING
		RETURNING id
	`

	var id int64
	err := r.db.QueryRow(ctx, insert,
		item.FeedID, item.Title, item.Link, item.Description, item.Content,
		item.Author, item.GUID, item.PublishedAt, item.ContentHash,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if err != pgx.ErrNoRows {
		return 0, false, classifyStoreError("items.upsert", err)
	}

	// Conflict: the hash exists. Dedup is success, return the existing id.
	err = r.db.QueryRow(ctx, `SELECT id FROM items WHERE content_hash = $1`, item.ContentHash).Scan(&id)
	if err != nil {
		return 0, false, classifyStoreError("items.upsert_lookup", err)
	}
	return id, false, nil
}

func (r *itemRepository) GetByID(ctx context.Context, id int64) (*domain.Item, error) {
	query := `
		SELECT id, feed_id, title, link, description, content, author, guid, published_at, content_hash, created_at
		FROM items WHERE id = $1
	`

	var item domain.Item
	err := r.db.QueryRow(ctx, query, id).Scan(
		&item.ID, &item.FeedID, &item.Title, &item.Link, &item.Description,
		&item.Content, &item.Author, &item.GUID, &item.PublishedAt,
		&item.ContentHash, &item.CreatedAt,
	)
	if err != nil {
		return nil, classifyStoreError("items.get", err)
	}
	return &item, nil
}

// ResolveScope materializes the candidate item list for a run. Results are
// id-ascending so the worker pool pulls deterministically.
func (r *itemRepository) ResolveScope(ctx context.Context, scope domain.RunScope, limit int, skipAnalyzed bool) ([]int64, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("items.resolve_scope: %w", err)
	}

	filter := ""
	if skipAnalyzed {
		filter = " AND NOT EXISTS (SELECT 1 FROM item_analysis a WHERE a.item_id = i.id)"
	}

	var (
		query string
		args  []any
	)
	switch scope.Kind {
	case domain.ScopeGlobal:
		query = `SELECT i.id FROM items i WHERE true` + filter + ` ORDER BY i.id ASC LIMIT $1`
		args = []any{limit}
	case domain.ScopeFeeds:
		query = `SELECT i.id FROM items i WHERE i.feed_id = ANY($1)` + filter + ` ORDER BY i.id ASC LIMIT $2`
		args = []any{scope.FeedIDs, limit}
	case domain.ScopeItems:
		query = `SELECT i.id FROM items i WHERE i.id = ANY($1)` + filter + ` ORDER BY i.id ASC LIMIT $2`
		args = []any{scope.ItemIDs, limit}
	case domain.ScopeTimeRange:
		query = `SELECT i.id FROM items i WHERE i.published_at >= $1 AND i.published_at < $2` + filter + ` ORDER BY i.id ASC LIMIT $3`
		args = []any{scope.Start, scope.End, limit}
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyStoreError("items.resolve_scope", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, classifyStoreError("items.resolve_scope", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError("items.resolve_scope", err)
	}
	return ids, nil
}

func (r *itemRepository) CountAnalyzed(ctx context.Context, itemIDs []int64) (int, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}

	var count int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM item_analysis WHERE item_id = ANY($1)`, itemIDs,
	).Scan(&count)
	if err != nil {
		return 0, classifyStoreError("items.count_analyzed", err)
	}
	return count, nil
}
