// Package media produces locally cached, resized copies of a post's images.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	pserrs "github.com/jdholdren/postsync/internal/errors"
)

const (
	// MaxAssets is how many assets of a source set get resized. The rest are ignored.
	MaxAssets = 4

	// FailureSentinel is the media id recorded when every resize attempt failed.
	FailureSentinel = "error"

	defaultTimeout = 30 * time.Second
)

type (
	// Asset maps a resolution to the URL of the variant at that resolution.
	Asset map[int]string

	// SourceSet is the ordered list of a post's assets.
	SourceSet []Asset

	// Editor opens an editable handle on an image.
	Editor interface {
		Open(ctx context.Context, url string) (Handle, error)
	}

	// Handle is an opened image.
	Handle interface {
		// OriginalSize is the size of the image before any resize.
		OriginalSize() (width, height int)
		// Resize scales to width. A height of 0 keeps the aspect ratio.
		Resize(width, height int) error
		Save(path string) error
	}

	Request struct {
		Sources   SourceSet
		Widths    []int
		OutputDir string
		// BaseName prefixes every file written and becomes the media id.
		BaseName string
	}

	// Outcome is what a Resize call achieved.
	Outcome struct {
		Success     bool
		AspectRatio float64
		MediaID     string
		Attempts    int
		Saved       []string
	}
)

// Resizer runs the (width × asset) resize matrix for a post.
type Resizer struct {
	editor  Editor
	sink    pserrs.Reporter
	workers int
	timeout time.Duration
}

type Option func(*Resizer)

// WithWorkers bounds how many resize attempts run at once. Zero means one
// worker per attempt.
func WithWorkers(n int) Option {
	return func(r *Resizer) {
		r.workers = n
	}
}

// WithTimeout bounds a single open+resize+save attempt.
func WithTimeout(d time.Duration) Option {
	return func(r *Resizer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewResizer(editor Editor, sink pserrs.Reporter, opts ...Option) *Resizer {
	r := &Resizer{
		editor:  editor,
		sink:    sink,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

type attempt struct {
	width int
	asset int
	src   Asset
}

type result struct {
	ok     bool
	width  int
	height int
	path   string
}

// Resize writes `{BaseName}-{asset}-{width}.jpg` for every width and each of the
// first [MaxAssets] assets. Individual failures are reported to the sink and
// skipped; the call as a whole never fails.
func (r *Resizer) Resize(ctx context.Context, req Request) Outcome {
	failed := Outcome{AspectRatio: 1, MediaID: FailureSentinel}
	if req.BaseName == "" {
		return failed
	}

	assets := req.Sources
	if len(assets) > MaxAssets {
		assets = assets[:MaxAssets]
	}

	// Sizes outer, assets inner. Results are read back in this order so the
	// aspect ratio does not depend on which worker finishes last.
	var attempts []attempt
	for _, width := range req.Widths {
		for i, src := range assets {
			attempts = append(attempts, attempt{width: width, asset: i, src: src})
		}
	}

	results := make([]result, len(attempts))
	var g errgroup.Group
	if r.workers > 0 {
		g.SetLimit(r.workers)
	}
	for i, a := range attempts {
		i, a := i, a
		g.Go(func() error {
			results[i] = r.attempt(ctx, req, a)
			return nil
		})
	}
	_ = g.Wait()

	out := Outcome{Attempts: len(attempts)}
	var last result
	for _, res := range results {
		if !res.ok {
			continue
		}
		out.Success = true
		out.Saved = append(out.Saved, res.path)
		last = res
	}

	if !out.Success {
		failed.Attempts = out.Attempts
		return failed
	}

	out.MediaID = req.BaseName
	out.AspectRatio = aspectRatio(last.width, last.height)
	slog.DebugContext(ctx, "resized media", "media_id", out.MediaID, "saved", len(out.Saved), "attempts", out.Attempts)

	return out
}

func (r *Resizer) attempt(ctx context.Context, req Request, a attempt) result {
	asset := fmt.Sprintf("%s-%d", req.BaseName, a.asset)
	url, ok := largest(a.src)
	if !ok {
		r.editFailed(asset, errors.New("asset has no source variants"))
		return result{}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	h, err := r.editor.Open(ctx, url)
	if err != nil {
		r.editFailed(asset, err)
		return result{}
	}

	width, height := h.OriginalSize()
	if err := h.Resize(a.width, 0); err != nil {
		r.editFailed(asset, err)
		return result{}
	}

	path := filepath.Join(req.OutputDir, FileName(req.BaseName, a.asset, a.width))
	if err := h.Save(path); err != nil {
		pserrs.Report(r.sink, pserrs.MediaSaveFailure, errors.New("Error saving edited image."),
			pserrs.Detail{Field: "path", Error: path},
			pserrs.Detail{Field: "cause", Error: err.Error()})
		return result{}
	}

	return result{ok: true, width: width, height: height, path: path}
}

// editFailed files an image_editor entry as [asset, message].
func (r *Resizer) editFailed(asset string, err error) {
	r.sink.Add(pserrs.MediaOpenFailure.Code(), asset, fmt.Sprintf("Error editing image. %s", err))
}

// FileName is the name a resized asset is cached under.
func FileName(baseName string, asset, width int) string {
	return fmt.Sprintf("%s-%d-%d.jpg", baseName, asset, width)
}

// largest picks the variant with the greatest resolution.
func largest(a Asset) (string, bool) {
	var (
		best  string
		bestR int
		found bool
	)
	for res, url := range a {
		if !found || res > bestR {
			best, bestR, found = url, res, true
		}
	}

	return best, found
}

func aspectRatio(width, height int) float64 {
	if width <= 0 || height <= 0 {
		return 1
	}

	return math.Round(float64(width)/float64(height)*100) / 100
}
