// Package postsync keeps a local, deduplicated cache of externally sourced
// posts and the feeds that display them.
package postsync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jdholdren/postsync/internal/media"
)

var (
	ErrConflict = errors.New("resource already exists")
	ErrNotFound = errors.New("resource not found")
)

// FailureSentinel is the media id of a post whose every resize attempt failed.
const FailureSentinel = media.FailureSentinel

// InternalID is the store-assigned identifier of a post. The zero value is
// unassigned: the post has not been persisted.
type InternalID struct {
	v string
}

func Assigned(id string) InternalID {
	return InternalID{v: id}
}

func (i InternalID) Get() (string, bool) {
	return i.v, i.v != ""
}

func (i InternalID) IsAssigned() bool {
	return i.v != ""
}

func (i InternalID) String() string {
	return i.v
}

func (i InternalID) MarshalJSON() ([]byte, error) {
	if i.v == "" {
		return []byte("null"), nil
	}
	return json.Marshal(i.v)
}

// MediaState is what is known about a post's cached media.
type MediaState string

const (
	MediaNeverAttempted MediaState = "never_attempted"
	MediaAttemptFailed  MediaState = "attempted_failed"
	MediaSucceeded      MediaState = "succeeded"
)

type (
	// Account is the connected source account a post was fetched with.
	Account struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	}

	// Source is what the pipeline needs to know about a raw post payload.
	Source struct {
		PostID    string
		Media     media.SourceSet
		Timestamp time.Time
		Message   string
		Author    string
	}

	// PostRecord is the cached form of one external post.
	PostRecord struct {
		ID         InternalID
		ExternalID string
		// Payload is the stored blob: ciphertext, or raw JSON for legacy rows.
		Payload         string
		MediaID         string
		Sizes           []int
		AspectRatio     float64
		MediaProcessed  bool
		CreatedOn       time.Time
		LastRequested   time.Time
		SourceTimestamp time.Time
	}

	// Holds the optional fields for updating a post. Nil pointers, a nil Sizes
	// and zero times are left untouched.
	PostUpdate struct {
		Payload         *string
		MediaID         *string
		Sizes           []int
		AspectRatio     *float64
		MediaProcessed  *bool
		LastRequested   time.Time
		SourceTimestamp time.Time
	}

	PostRepo interface {
		Post(ctx context.Context, id string) (PostRecord, error)
		// PostByExternalID returns the first row for the external id.
		PostByExternalID(ctx context.Context, externalID string) (PostRecord, error)
		// InsertPost assigns an id and inserts the record unless a row for its
		// external id exists. Either way the stored row is returned; created
		// reports which happened.
		InsertPost(ctx context.Context, rec PostRecord) (stored PostRecord, created bool, err error)
		UpdatePost(ctx context.Context, id string, args PostUpdate) error
	}

	LinkRepo interface {
		LinkExists(ctx context.Context, postID, feedID string) (bool, error)
		// InsertLink is a no-op when the pair already exists.
		InsertLink(ctx context.Context, postID, feedID string) error
		// FeedPosts lists a feed's posts, newest source timestamp first.
		FeedPosts(ctx context.Context, feedID string, limit int) ([]PostRecord, error)
	}

	Resizer interface {
		Resize(ctx context.Context, req media.Request) media.Outcome
	}

	Encryptor interface {
		Encrypt(plaintext []byte) (string, error)
		Open(blob string) []byte
	}

	// Extractor reads the fields the pipeline needs out of a raw payload.
	Extractor interface {
		Extract(raw json.RawMessage, account Account) (Source, error)
	}
)

func (p PostRecord) MediaState() MediaState {
	switch {
	case !p.MediaProcessed:
		return MediaNeverAttempted
	case p.MediaID == "" || p.MediaID == FailureSentinel:
		return MediaAttemptFailed
	default:
		return MediaSucceeded
	}
}
