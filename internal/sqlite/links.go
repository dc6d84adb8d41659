package sqlite

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/jdholdren/postsync/internal/postsync"
)

func (r Repo) LinkExists(ctx context.Context, postID, feedID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM feed_links WHERE post_id = ? AND feed_id = ?);`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, q, postID, feedID); err != nil {
		return false, fmt.Errorf("error checking feed link: %w", err)
	}

	return exists, nil
}

func (r Repo) InsertLink(ctx context.Context, postID, feedID string) error {
	const q = `INSERT OR IGNORE INTO feed_links (post_id, feed_id) VALUES (?, ?);`

	if _, err := r.db.ExecContext(ctx, q, postID, feedID); err != nil {
		return fmt.Errorf("error inserting feed link: %w", err)
	}

	return nil
}

// FeedPosts returns up to limit posts linked to the feed, newest source
// timestamp first. A limit of zero or less returns every linked post.
func (r Repo) FeedPosts(ctx context.Context, feedID string, limit int) ([]postsync.PostRecord, error) {
	q := sq.Select("p.*").
		From("posts p").
		Join("feed_links l ON l.post_id = p.id").
		Where(sq.Eq{"l.feed_id": feedID}).
		OrderBy("p.source_timestamp DESC", "p.id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %w", err)
	}

	var rows []postRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("error fetching feed posts: %w", err)
	}

	recs := make([]postsync.PostRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	return recs, nil
}
