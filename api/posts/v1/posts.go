package v1

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jdholdren/postsync/api"
)

// MaxBatch is the most posts a single ingest request may carry.
const MaxBatch = 100

type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// IngestRequest carries raw posts fetched for a feed.
type IngestRequest struct {
	Account Account           `json:"account"`
	Posts   []json.RawMessage `json:"posts"`
}

// Validate checks that the body (minus logic checks) is valid.
//
// Returns an api.Error if the request is invalid.
func (r IngestRequest) Validate() error {
	errs := []api.ErrorDetail{}
	if len(r.Posts) == 0 {
		errs = append(errs, api.ErrorDetail{
			Field: "posts",
			Error: "at least one post is required",
		})
	}
	if len(r.Posts) > MaxBatch {
		errs = append(errs, api.ErrorDetail{
			Field: "posts",
			Error: fmt.Sprintf("at most %d posts per request", MaxBatch),
		})
	}
	for i, p := range r.Posts {
		if len(p) == 0 || p[0] != '{' {
			errs = append(errs, api.ErrorDetail{
				Field: fmt.Sprintf("posts[%d]", i),
				Error: "post must be an object",
			})
		}
	}
	if len(errs) > 0 {
		return api.Invalid(errs)
	}

	return nil
}

type IngestResponse struct {
	Seen     int `json:"seen"`
	Created  int `json:"created"`
	Existing int `json:"existing"`
	Linked   int `json:"linked"`
	Failed   int `json:"failed"`
}

// Post is a cached post as served to the rendering layer.
type Post struct {
	ID              string          `json:"id"`
	ExternalID      string          `json:"external_id"`
	MediaID         string          `json:"media_id"`
	MediaState      string          `json:"media_state"`
	Sizes           []int           `json:"sizes"`
	AspectRatio     float64         `json:"aspect_ratio"`
	CreatedOn       time.Time       `json:"created_on"`
	LastRequested   time.Time       `json:"last_requested"`
	SourceTimestamp time.Time       `json:"source_timestamp"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

type FeedPostsResponse struct {
	FeedID string `json:"feed_id"`
	Posts  []Post `json:"posts"`
}

type ErrorEntry struct {
	Kind    string    `json:"kind"`
	Details []string  `json:"details"`
	At      time.Time `json:"at"`
}

type ErrorsResponse struct {
	Entries []ErrorEntry   `json:"entries"`
	Kinds   map[string]int `json:"kinds"`
}
