// Package extract reads post fields out of Graph API shaped payloads.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/jdholdren/postsync/internal/media"
	"github.com/jdholdren/postsync/internal/postsync"
)

// ErrNoID is returned for payloads without a post id.
var ErrNoID = errors.New("payload has no post id")

// fullPictureWidth is the resolution assumed for a bare full_picture url.
const fullPictureWidth = 720

// Graph layout used by created_time and updated_time.
const graphTime = "2006-01-02T15:04:05-0700"

// Ensure Graph implements the Extractor interface
var _ postsync.Extractor = Graph{}

// Graph extracts from Graph API post objects.
type Graph struct{}

type (
	graphPost struct {
		ID          string          `json:"id"`
		CreatedTime json.RawMessage `json:"created_time"`
		UpdatedTime json.RawMessage `json:"updated_time"`
		Message     string          `json:"message"`
		From        *struct {
			Name string `json:"name"`
		} `json:"from"`
		FullPicture string       `json:"full_picture"`
		Images      []graphImage `json:"images"`
		Attachments *struct {
			Data []graphAttachment `json:"data"`
		} `json:"attachments"`
	}

	graphAttachment struct {
		Media *struct {
			Image graphImage `json:"image"`
		} `json:"media"`
		Subattachments *struct {
			Data []graphAttachment `json:"data"`
		} `json:"subattachments"`
	}

	graphImage struct {
		Src    string `json:"src"`
		Source string `json:"source"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	}
)

func (i graphImage) url() string {
	if i.Src != "" {
		return i.Src
	}
	return i.Source
}

func (Graph) Extract(raw json.RawMessage, account postsync.Account) (postsync.Source, error) {
	var p graphPost
	if err := json.Unmarshal(raw, &p); err != nil {
		return postsync.Source{}, fmt.Errorf("error decoding post: %w", err)
	}
	if p.ID == "" {
		return postsync.Source{}, ErrNoID
	}

	// Unreadable times are left zero and the store falls back to now.
	ts := timestamp(p.CreatedTime)
	if ts.IsZero() {
		ts = timestamp(p.UpdatedTime)
	}

	author := account.Name
	if p.From != nil && p.From.Name != "" {
		author = p.From.Name
	}

	return postsync.Source{
		PostID:    p.ID,
		Media:     sourceSet(p),
		Timestamp: ts,
		Message:   sanitize(p.Message),
		Author:    author,
	}, nil
}

// sourceSet prefers attachments, then a photo's image variants, then the
// full picture.
func sourceSet(p graphPost) media.SourceSet {
	var set media.SourceSet
	if p.Attachments != nil {
		for _, a := range p.Attachments.Data {
			set = appendAttachment(set, a)
		}
	}
	if len(set) > 0 {
		return set
	}

	if variants := asset(p.Images...); len(variants) > 0 {
		return media.SourceSet{variants}
	}

	if p.FullPicture != "" {
		return media.SourceSet{{fullPictureWidth: p.FullPicture}}
	}

	return nil
}

func appendAttachment(set media.SourceSet, a graphAttachment) media.SourceSet {
	if a.Subattachments != nil && len(a.Subattachments.Data) > 0 {
		for _, sub := range a.Subattachments.Data {
			set = appendAttachment(set, sub)
		}
		return set
	}
	if a.Media == nil {
		return set
	}
	if variants := asset(a.Media.Image); len(variants) > 0 {
		set = append(set, variants)
	}

	return set
}

func asset(images ...graphImage) media.Asset {
	a := media.Asset{}
	for _, img := range images {
		u := img.url()
		if u == "" {
			continue
		}
		w := img.Width
		if w <= 0 {
			w = fullPictureWidth
		}
		a[w] = u
	}

	return a
}

// timestamp accepts Graph formatted, RFC 3339 or unix second values.
func timestamp(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}
	}

	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}
		}
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	for _, layout := range []string{graphTime, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}

	return time.Time{}
}

var stripPolicy = bluemonday.StrictPolicy()

// Removes all html tags from the message and caps its length.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = stripPolicy.Sanitize(s)
	if r := []rune(s); len(r) > 2048 {
		s = string(r[:2048])
	}

	return s
}
