package postsync

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	pserrs "github.com/jdholdren/postsync/internal/errors"
	"github.com/jdholdren/postsync/logger"
)

// Report counts what one Ingest call did.
type Report struct {
	Seen     int `json:"seen"`
	Created  int `json:"created"`
	Existing int `json:"existing"`
	Linked   int `json:"linked"`
	Failed   int `json:"failed"`
}

// Ingester drives posts fetched for a feed through the record and link stores.
type Ingester struct {
	records   *Records
	links     *Links
	extractor Extractor
	sink      pserrs.Reporter
	now       func() time.Time
}

func NewIngester(records *Records, links *Links, extractor Extractor, sink pserrs.Reporter) *Ingester {
	return &Ingester{
		records:   records,
		links:     links,
		extractor: extractor,
		sink:      sink,
		now:       time.Now,
	}
}

// Ingest caches every post not seen before and makes sure each one is linked
// to the feed. Posts are handled in order; a failing post is counted and
// skipped.
func (in *Ingester) Ingest(ctx context.Context, feedID string, account Account, posts []json.RawMessage) Report {
	ctx = logger.WithFeed(ctx, feedID)

	var rep Report
	for _, raw := range posts {
		rep.Seen++
		if ctx.Err() != nil {
			rep.Failed++
			continue
		}

		rec, created, ok := in.sync(ctx, feedID, account, raw)
		if !ok {
			rep.Failed++
			continue
		}
		if created {
			rep.Created++
		} else {
			rep.Existing++
		}

		if in.links.Linked(ctx, rec.ID, feedID) {
			continue
		}
		if !in.links.Link(ctx, rec.ID, feedID) {
			rep.Failed++
			continue
		}
		rep.Linked++
	}

	slog.InfoContext(ctx, "ingested posts",
		"seen", rep.Seen,
		"created", rep.Created,
		"existing", rep.Existing,
		"linked", rep.Linked,
		"failed", rep.Failed,
	)

	return rep
}

// sync returns the stored record for raw, creating it when it is new.
func (in *Ingester) sync(ctx context.Context, feedID string, account Account, raw json.RawMessage) (rec PostRecord, created bool, ok bool) {
	src, err := in.extractor.Extract(raw, account)
	if err != nil {
		pserrs.Report(in.sink, pserrs.InvalidPost, err, pserrs.Detail{Field: "feed_id", Error: feedID})
		return PostRecord{}, false, false
	}
	ctx = logger.WithPost(ctx, src.PostID)

	rec, found, err := in.records.Lookup(ctx, src.PostID)
	if err != nil {
		pserrs.Report(in.sink, pserrs.PersistenceFailure, err, pserrs.Detail{Field: "external_post_id", Error: src.PostID})
		return PostRecord{}, false, false
	}

	if !found {
		rec, created = in.records.MaterializeAndSave(ctx, raw, feedID, account)
		return rec, created, in.records.Exists(rec)
	}

	// Already cached: media is never redone, only the request time moves.
	if err := in.records.Update(ctx, rec.ID, PostUpdate{LastRequested: in.now().UTC()}); err != nil {
		slog.ErrorContext(ctx, "error refreshing last requested", "error", err)
	}

	return rec, false, true
}
