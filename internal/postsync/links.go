package postsync

import (
	"context"
	"errors"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	pserrs "github.com/jdholdren/postsync/internal/errors"
)

const linkCacheSize = 4096

type linkKey struct {
	postID string
	feedID string
}

// Links tracks which feeds display which cached posts. Links are only ever
// added.
type Links struct {
	repo LinkRepo
	sink pserrs.Reporter

	// Only positive answers are cached.
	seen *lru.Cache[linkKey, struct{}]
}

func NewLinks(repo LinkRepo, sink pserrs.Reporter) *Links {
	seen, _ := lru.New[linkKey, struct{}](linkCacheSize)
	return &Links{
		repo: repo,
		sink: sink,
		seen: seen,
	}
}

// Linked reports whether the post is linked to the feed. Lookup errors are
// logged and answered with false.
func (l *Links) Linked(ctx context.Context, id InternalID, feedID string) bool {
	postID, ok := id.Get()
	if !ok {
		return false
	}

	key := linkKey{postID: postID, feedID: feedID}
	if l.seen.Contains(key) {
		return true
	}

	exists, err := l.repo.LinkExists(ctx, postID, feedID)
	if err != nil {
		slog.ErrorContext(ctx, "error checking feed link", "error", err, "id", postID)
		return false
	}
	if exists {
		l.seen.Add(key, struct{}{})
	}

	return exists
}

// Link associates the post with the feed. The post must already be persisted.
func (l *Links) Link(ctx context.Context, id InternalID, feedID string) bool {
	postID, ok := id.Get()
	if !ok {
		pserrs.Report(l.sink, pserrs.LinkPrecondition, errors.New("Error inserting post."),
			pserrs.Detail{Field: "id", Error: "No database ID."})
		return false
	}

	if err := l.repo.InsertLink(ctx, postID, feedID); err != nil {
		pserrs.Report(l.sink, pserrs.PersistenceFailure, errors.New("Error inserting post."),
			pserrs.Detail{Field: "feed_id", Error: feedID},
			pserrs.Detail{Field: "cause", Error: err.Error()})
		return false
	}
	l.seen.Add(linkKey{postID: postID, feedID: feedID}, struct{}{})

	return true
}

// FeedPosts lists up to limit posts linked to the feed, newest first.
func (l *Links) FeedPosts(ctx context.Context, feedID string, limit int) ([]PostRecord, error) {
	return l.repo.FeedPosts(ctx, feedID, limit)
}
