package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"newswatch/domain"

	"github.com/jackc/pgx/v5"
)

type feedRepository struct {
	db     DB
	logger *slog.Logger
}

// NewFeedRepository creates a new feed repository.
func NewFeedRepository(db DB, logger *slog.Logger) FeedRepository {
	return &feedRepository{db: db, logger: logger}
}

const feedColumns = `id, url, title, status, fetch_interval_minutes, last_fetched_at,
	next_fetch_at, auto_analyze_enabled, source_ref, type_ref, etag,
	last_modified_header, http_timeout_seconds, created_at`

func (r *feedRepository) Create(ctx context.Context, feed *domain.Feed) (int64, error) {
	query := `
		INSERT INTO feeds (url, title, status, fetch_interval_minutes, next_fetch_at, auto_analyze_enabled, source_ref, type_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRow(ctx, query,
		feed.URL, feed.Title, feed.Status, feed.FetchIntervalMin,
		feed.NextFetchAt, feed.AutoAnalyzeEnabled, feed.SourceRef, feed.TypeRef,
	).Scan(&id)
	if err != nil {
		return 0, classifyStoreError("feeds.create", err)
	}

	// Every feed carries exactly one health row from the moment it exists.
	healthQuery := `
		INSERT INTO feed_health (feed_id, ok_ratio, uptime_24h, uptime_7d, updated_at)
		VALUES ($1, 1.0, 1.0, 1.0, now())
		ON CONFLICT (feed_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, healthQuery, id); err != nil {
		return 0, classifyStoreError("feeds.create_health", err)
	}

	r.logger.InfoContext(ctx, "feed created", "feed_id", id, "url", feed.URL)
	return id, nil
}

func (r *feedRepository) GetByID(ctx context.Context, id int64) (*domain.Feed, error) {
	query := `SELECT ` + feedColumns + ` FROM feeds WHERE id = $1`

	row := r.db.QueryRow(ctx, query, id)
	feed, err := scanFeed(row)
	if err != nil {
		return nil, classifyStoreError("feeds.get", err)
	}
	return feed, nil
}

func (r *feedRepository) List(ctx context.Context) ([]*domain.Feed, error) {
	query := `SELECT ` + feedColumns + ` FROM feeds ORDER BY id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, classifyStoreError("feeds.list", err)
	}
	defer rows.Close()

	return scanFeeds(rows)
}

// ClaimDue implements the claim protocol: the UPDATE advances next_fetch_at
// by one interval before any fetch starts, so a concurrently restarted
// scheduler cannot claim the same feed twice within the lease window.
func (r *feedRepository) ClaimDue(ctx context.Context, now time.Time, limit int, excludeIDs []int64) ([]*domain.Feed, error) {
	if limit <= 0 {
		return nil, nil
	}
	if excludeIDs == nil {
		excludeIDs = []int64{}
	}

	query := `
		UPDATE feeds SET next_fetch_at = $1 + (fetch_interval_minutes * interval '1 minute')
		WHERE id IN (
			SELECT id FROM feeds
			WHERE next_fetch_at <= $1 AND status = 'active' AND NOT (id = ANY($3))
			ORDER BY next_fetch_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + feedColumns

	rows, err := r.db.Query(ctx, query, now, limit, excludeIDs)
	if err != nil {
		return nil, classifyStoreError("feeds.claim_due", err)
	}
	defer rows.Close()

	feeds, err := scanFeeds(rows)
	if err != nil {
		return nil, err
	}

	if len(feeds) > 0 {
		r.logger.DebugContext(ctx, "claimed due feeds", "count", len(feeds))
	}
	return feeds, nil
}

func (r *feedRepository) Reschedule(ctx context.Context, feedID int64, lastFetchedAt, nextFetchAt time.Time, etag, lastModified *string) error {
	query := `
		UPDATE feeds
		SET last_fetched_at = $2,
		    next_fetch_at = $3,
		    etag = COALESCE($4, etag),
		    last_modified_header = COALESCE($5, last_modified_header)
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, feedID, lastFetchedAt, nextFetchAt, etag, lastModified)
	if err != nil {
		return classifyStoreError("feeds.reschedule", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feeds.reschedule: %w", domain.ErrFeedNotFound)
	}
	return nil
}

func (r *feedRepository) UpdateStatus(ctx context.Context, feedID int64, status domain.FeedStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE feeds SET status = $2 WHERE id = $1`, feedID, status)
	if err != nil {
		return classifyStoreError("feeds.update_status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feeds.update_status: %w", domain.ErrFeedNotFound)
	}

	r.logger.InfoContext(ctx, "feed status updated", "feed_id", feedID, "status", status)
	return nil
}

func (r *feedRepository) Delete(ctx context.Context, feedID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM feeds WHERE id = $1`, feedID)
	if err != nil {
		return classifyStoreError("feeds.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feeds.delete: %w", domain.ErrFeedNotFound)
	}
	return nil
}

func scanFeed(row pgx.Row) (*domain.Feed, error) {
	var feed domain.Feed
	err := row.Scan(
		&feed.ID, &feed.URL, &feed.Title, &feed.Status, &feed.FetchIntervalMin,
		&feed.LastFetchedAt, &feed.NextFetchAt, &feed.AutoAnalyzeEnabled,
		&feed.SourceRef, &feed.TypeRef, &feed.ETag, &feed.LastModifiedHeader,
		&feed.HTTPTimeoutOverride, &feed.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &feed, nil
}

func scanFeeds(rows pgx.Rows) ([]*domain.Feed, error) {
	var feeds []*domain.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, classifyStoreError("feeds.scan", err)
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError("feeds.scan", err)
	}
	return feeds, nil
}
