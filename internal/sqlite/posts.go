package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jdholdren/postsync/internal/postsync"
)

const postNamespace = "-pst"

type postRow struct {
	ID              string    `db:"id"`
	ExternalPostID  string    `db:"external_post_id"`
	CreatedOn       time.Time `db:"created_on"`
	LastRequested   time.Time `db:"last_requested"`
	SourceTimestamp time.Time `db:"source_timestamp"`
	Payload         string    `db:"payload"`
	MediaID         string    `db:"media_id"`
	Sizes           string    `db:"sizes"`
	AspectRatio     float64   `db:"aspect_ratio"`
	MediaProcessed  bool      `db:"media_processed"`
}

func (p postRow) record() (postsync.PostRecord, error) {
	var sizes []int
	// Rows that were never resized hold an empty object.
	if p.Sizes != "" && p.Sizes != "{}" {
		if err := json.Unmarshal([]byte(p.Sizes), &sizes); err != nil {
			return postsync.PostRecord{}, fmt.Errorf("error decoding sizes of %s: %w", p.ID, err)
		}
	}

	return postsync.PostRecord{
		ID:              postsync.Assigned(p.ID),
		ExternalID:      p.ExternalPostID,
		Payload:         p.Payload,
		MediaID:         p.MediaID,
		Sizes:           sizes,
		AspectRatio:     p.AspectRatio,
		MediaProcessed:  p.MediaProcessed,
		CreatedOn:       p.CreatedOn,
		LastRequested:   p.LastRequested,
		SourceTimestamp: p.SourceTimestamp,
	}, nil
}

func encodeSizes(sizes []int) (string, error) {
	if sizes == nil {
		return "{}", nil
	}

	b, err := json.Marshal(sizes)
	if err != nil {
		return "", fmt.Errorf("error encoding sizes: %w", err)
	}
	return string(b), nil
}

func (r Repo) Post(ctx context.Context, id string) (postsync.PostRecord, error) {
	const q = `SELECT * FROM posts WHERE id = ?;`

	var row postRow
	err := r.db.GetContext(ctx, &row, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return postsync.PostRecord{}, postsync.ErrNotFound
	}
	if err != nil {
		return postsync.PostRecord{}, fmt.Errorf("error fetching post: %w", err)
	}

	return row.record()
}

func (r Repo) PostByExternalID(ctx context.Context, externalID string) (postsync.PostRecord, error) {
	const q = `SELECT * FROM posts WHERE external_post_id = ? LIMIT 1;`

	var row postRow
	err := r.db.GetContext(ctx, &row, q, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return postsync.PostRecord{}, postsync.ErrNotFound
	}
	if err != nil {
		return postsync.PostRecord{}, fmt.Errorf("error fetching post: %w", err)
	}

	return row.record()
}

func (r Repo) InsertPost(ctx context.Context, rec postsync.PostRecord) (postsync.PostRecord, bool, error) {
	const q = `INSERT INTO posts (id, external_post_id, created_on, last_requested, source_timestamp, payload, media_id, sizes, aspect_ratio, media_processed)
	VALUES (:id, :external_post_id, :created_on, :last_requested, :source_timestamp, :payload, :media_id, :sizes, :aspect_ratio, :media_processed)
	ON CONFLICT(external_post_id) DO NOTHING;`

	sizes, err := encodeSizes(rec.Sizes)
	if err != nil {
		return postsync.PostRecord{}, false, err
	}
	row := postRow{
		ID:              fmt.Sprintf("%s%s", uuid.NewString(), postNamespace),
		ExternalPostID:  rec.ExternalID,
		CreatedOn:       rec.CreatedOn,
		LastRequested:   rec.LastRequested,
		SourceTimestamp: rec.SourceTimestamp,
		Payload:         rec.Payload,
		MediaID:         rec.MediaID,
		Sizes:           sizes,
		AspectRatio:     rec.AspectRatio,
		MediaProcessed:  rec.MediaProcessed,
	}

	res, err := r.db.NamedExecContext(ctx, q, row)
	if sqliteErr := (&sqlite.Error{}); errors.As(err, &sqliteErr) && isConstraint(sqliteErr.Code()) {
		return postsync.PostRecord{}, false, fmt.Errorf("post already exists: %w", postsync.ErrConflict)
	}
	if err != nil {
		return postsync.PostRecord{}, false, fmt.Errorf("error inserting post: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return postsync.PostRecord{}, false, fmt.Errorf("error reading rows affected: %w", err)
	}
	if n == 0 {
		existing, err := r.PostByExternalID(ctx, rec.ExternalID)
		return existing, false, err
	}

	stored, err := r.Post(ctx, row.ID)
	return stored, err == nil, err
}

func isConstraint(code int) bool {
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func (r Repo) UpdatePost(ctx context.Context, id string, args postsync.PostUpdate) error {
	q := sq.Update("posts")
	var set bool
	if args.Payload != nil {
		q, set = q.Set("payload", *args.Payload), true
	}
	if args.MediaID != nil {
		q, set = q.Set("media_id", *args.MediaID), true
	}
	if args.Sizes != nil {
		sizes, err := encodeSizes(args.Sizes)
		if err != nil {
			return err
		}
		q, set = q.Set("sizes", sizes), true
	}
	if args.AspectRatio != nil {
		q, set = q.Set("aspect_ratio", *args.AspectRatio), true
	}
	if args.MediaProcessed != nil {
		q, set = q.Set("media_processed", *args.MediaProcessed), true
	}
	if !args.LastRequested.IsZero() {
		q, set = q.Set("last_requested", args.LastRequested), true
	}
	if !args.SourceTimestamp.IsZero() {
		q, set = q.Set("source_timestamp", args.SourceTimestamp), true
	}
	if !set {
		return nil
	}
	q = q.Where(sq.Eq{"id": id})

	query, qArgs, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, qArgs...)
	if err != nil {
		return fmt.Errorf("error updating post: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return postsync.ErrNotFound
	}

	return nil
}
