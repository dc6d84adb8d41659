package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	postsv1 "github.com/jdholdren/postsync/api/posts/v1"
	pserrs "github.com/jdholdren/postsync/internal/errors"
	"github.com/jdholdren/postsync/internal/metrics"
	"github.com/jdholdren/postsync/internal/postsync"
	"github.com/jdholdren/postsync/internal/server"
	"github.com/jdholdren/postsync/logger"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

func (s Server) postFeedPosts(w http.ResponseWriter, r *http.Request) error {
	feedID := mux.Vars(r)["feedID"]
	ctx := logger.WithFeed(r.Context(), feedID)

	req, err := server.DecodeValid[postsv1.IngestRequest](r.Body)
	if err != nil {
		return err
	}

	rep := s.ingester.Ingest(ctx, feedID, postsync.Account{
		ID:   req.Account.ID,
		Name: req.Account.Name,
		Type: req.Account.Type,
	}, req.Posts)
	metrics.RecordIngest(rep)

	return server.WriteJSON(w, http.StatusOK, postsv1.IngestResponse{
		Seen:     rep.Seen,
		Created:  rep.Created,
		Existing: rep.Existing,
		Linked:   rep.Linked,
		Failed:   rep.Failed,
	})
}

func (s Server) getPost(w http.ResponseWriter, r *http.Request) error {
	externalID := mux.Vars(r)["externalID"]
	ctx := logger.WithPost(r.Context(), externalID)

	rec, ok, err := s.records.Lookup(ctx, externalID)
	if err != nil {
		return err
	}
	if !ok {
		return pserrs.E(pserrs.NotFound, http.StatusNotFound, "post not found")
	}

	post := toPost(rec)
	post.Payload = payloadJSON(s.records.Payload(rec))
	return server.WriteJSON(w, http.StatusOK, post)
}

func (s Server) getFeedPosts(w http.ResponseWriter, r *http.Request) error {
	feedID := mux.Vars(r)["feedID"]
	ctx := logger.WithFeed(r.Context(), feedID)

	limit := defaultPageSize
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 || n > maxPageSize {
			return pserrs.E(pserrs.InvalidRequest, http.StatusBadRequest, "limit must be between 1 and 100",
				pserrs.Detail{Field: "limit", Error: l})
		}
		limit = n
	}

	recs, err := s.links.FeedPosts(ctx, feedID, limit)
	if err != nil {
		return err
	}

	resp := postsv1.FeedPostsResponse{
		FeedID: feedID,
		Posts:  make([]postsv1.Post, 0, len(recs)),
	}
	for _, rec := range recs {
		resp.Posts = append(resp.Posts, toPost(rec))
	}

	return server.WriteJSON(w, http.StatusOK, resp)
}

func toPost(rec postsync.PostRecord) postsv1.Post {
	return postsv1.Post{
		ID:              rec.ID.String(),
		ExternalID:      rec.ExternalID,
		MediaID:         rec.MediaID,
		MediaState:      string(rec.MediaState()),
		Sizes:           rec.Sizes,
		AspectRatio:     rec.AspectRatio,
		CreatedOn:       rec.CreatedOn,
		LastRequested:   rec.LastRequested,
		SourceTimestamp: rec.SourceTimestamp,
	}
}

// payloadJSON passes JSON through and quotes anything else as a string.
func payloadJSON(b []byte) json.RawMessage {
	if json.Valid(b) {
		return b
	}

	quoted, _ := json.Marshal(string(b))
	return quoted
}
