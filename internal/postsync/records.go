package postsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	pserrs "github.com/jdholdren/postsync/internal/errors"
	"github.com/jdholdren/postsync/internal/media"
	"github.com/jdholdren/postsync/logger"
)

// RecordsConfig holds what Records needs to materialize media.
type RecordsConfig struct {
	Widths   []int
	MediaDir string
}

// Records is the store of cached posts, keyed by external id.
type Records struct {
	repo      PostRepo
	resizer   Resizer
	enc       Encryptor
	extractor Extractor
	sink      pserrs.Reporter
	cfg       RecordsConfig

	group singleflight.Group
	now   func() time.Time
}

func NewRecords(repo PostRepo, resizer Resizer, enc Encryptor, extractor Extractor, sink pserrs.Reporter, cfg RecordsConfig) *Records {
	return &Records{
		repo:      repo,
		resizer:   resizer,
		enc:       enc,
		extractor: extractor,
		sink:      sink,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Lookup finds the record for an external id. ok is false when there is none.
func (r *Records) Lookup(ctx context.Context, externalID string) (rec PostRecord, ok bool, err error) {
	rec, err = r.repo.PostByExternalID(ctx, externalID)
	if errors.Is(err, ErrNotFound) {
		return PostRecord{}, false, nil
	}
	if err != nil {
		return PostRecord{}, false, fmt.Errorf("error looking up post: %w", err)
	}

	return rec, true, nil
}

// Exists reports whether rec has been persisted.
func (r *Records) Exists(rec PostRecord) bool {
	return rec.ID.IsAssigned()
}

type materialized struct {
	rec     PostRecord
	created bool
}

// MaterializeAndSave resizes the post's media, then persists the encrypted
// payload with the resize outcome. A row that already exists for the post is
// returned as is, without resizing again.
//
// Failures are reported to the sink and leave the returned record unassigned.
// created is true only for the call that wrote the row. Concurrent calls for
// the same post wait for that call and get its record with created false.
func (r *Records) MaterializeAndSave(ctx context.Context, raw json.RawMessage, feedID string, account Account) (PostRecord, bool) {
	src, err := r.extractor.Extract(raw, account)
	if err != nil {
		pserrs.Report(r.sink, pserrs.InvalidPost, fmt.Errorf("Error reading post. %w", err),
			pserrs.Detail{Field: "feed_id", Error: feedID})
		return PostRecord{}, false
	}
	ctx = logger.WithPost(logger.WithFeed(ctx, feedID), src.PostID)

	// The run outlives any single caller's context.
	var leader bool
	v, err, _ := r.group.Do(src.PostID, func() (any, error) {
		leader = true
		return r.materialize(context.WithoutCancel(ctx), raw, src)
	})
	if err != nil {
		slog.ErrorContext(ctx, "error materializing post", "error", err)
		return PostRecord{ExternalID: src.PostID}, false
	}

	m := v.(materialized)
	return m.rec, m.created && leader
}

func (r *Records) materialize(ctx context.Context, raw json.RawMessage, src Source) (materialized, error) {
	// Another ingester may have stored it since the caller looked.
	existing, ok, err := r.Lookup(ctx, src.PostID)
	if err != nil {
		return materialized{}, pserrs.Report(r.sink, pserrs.PersistenceFailure, err,
			pserrs.Detail{Field: "external_post_id", Error: src.PostID})
	}
	if ok {
		return materialized{rec: existing}, nil
	}

	outcome := r.resizer.Resize(ctx, media.Request{
		Sources:   src.Media,
		Widths:    r.cfg.Widths,
		OutputDir: r.cfg.MediaDir,
		BaseName:  baseName(src.PostID),
	})

	payload, err := r.enc.Encrypt(raw)
	if err != nil {
		return materialized{}, pserrs.Report(r.sink, pserrs.PersistenceFailure, fmt.Errorf("Error encrypting post. %w", err),
			pserrs.Detail{Field: "external_post_id", Error: src.PostID})
	}

	now := r.now().UTC()
	ts := src.Timestamp
	if ts.IsZero() {
		ts = now
	}
	stored, created, err := r.repo.InsertPost(ctx, PostRecord{
		ExternalID:      src.PostID,
		Payload:         payload,
		MediaID:         outcome.MediaID,
		Sizes:           slices.Clone(r.cfg.Widths),
		AspectRatio:     outcome.AspectRatio,
		MediaProcessed:  true,
		CreatedOn:       now,
		LastRequested:   now,
		SourceTimestamp: ts.UTC(),
	})
	if err != nil {
		return materialized{}, pserrs.Report(r.sink, pserrs.PersistenceFailure, fmt.Errorf("Error inserting post. %w", err),
			pserrs.Detail{Field: "external_post_id", Error: src.PostID})
	}
	if !created {
		// Another process stored it while we resized; its row stands.
		slog.InfoContext(ctx, "post stored concurrently, keeping existing row", "id", stored.ID)
	} else {
		slog.InfoContext(ctx, "stored post", "id", stored.ID, "media_state", stored.MediaState(), "aspect_ratio", stored.AspectRatio)
	}

	return materialized{rec: stored, created: created}, nil
}

// Update writes the set fields of args to the post.
func (r *Records) Update(ctx context.Context, id InternalID, args PostUpdate) error {
	dbID, ok := id.Get()
	if !ok {
		return fmt.Errorf("post has no internal id: %w", ErrNotFound)
	}
	if err := r.repo.UpdatePost(ctx, dbID, args); err != nil {
		return fmt.Errorf("error updating post: %w", err)
	}

	return nil
}

// Get fetches a post by its internal id.
func (r *Records) Get(ctx context.Context, id string) (PostRecord, error) {
	return r.repo.Post(ctx, id)
}

// Payload returns the decrypted payload, or the stored bytes for rows written
// before encryption.
func (r *Records) Payload(rec PostRecord) []byte {
	return r.enc.Open(rec.Payload)
}

// baseName makes an external id safe to use in a file name. Ids that had to
// be rewritten get a digest of the original appended to stay distinct.
func baseName(externalID string) string {
	safe := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			return c
		default:
			return '_'
		}
	}, externalID)
	if safe == externalID {
		return safe
	}

	sum := sha256.Sum256([]byte(externalID))
	return safe + "-" + hex.EncodeToString(sum[:4])
}
