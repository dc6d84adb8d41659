package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/time/rate"
)

const (
	DefaultQuality = 85

	// Source images larger than this are refused.
	maxSourceBytes = 32 << 20
	fetchRetries   = 3
)

// HTTPEditor opens images over http(s), and optionally from the local filesystem.
type HTTPEditor struct {
	client  *http.Client
	quality int
	backoff time.Duration
	limiter *rate.Limiter
	// Whether file:// urls and bare paths may be opened.
	local bool
}

type EditorOption func(*HTTPEditor)

// WithFetchLimit caps remote fetches at perSecond, across all workers. Zero
// or less leaves fetches unlimited.
func WithFetchLimit(perSecond float64, burst int) EditorOption {
	return func(e *HTTPEditor) {
		if perSecond <= 0 {
			return
		}
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, burst))
	}
}

// WithLocalFiles lets Open read file:// urls and bare paths. Source urls come
// from ingested payloads, so only trusted callers should enable it.
func WithLocalFiles() EditorOption {
	return func(e *HTTPEditor) {
		e.local = true
	}
}

func NewHTTPEditor(client *http.Client, quality int, opts ...EditorOption) *HTTPEditor {
	if client == nil {
		client = http.DefaultClient
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	e := &HTTPEditor{
		client:  client,
		quality: quality,
		backoff: 200 * time.Millisecond,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *HTTPEditor) Open(ctx context.Context, src string) (Handle, error) {
	u, err := url.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("error parsing source url: %w", err)
	}

	var raw []byte
	switch u.Scheme {
	case "http", "https":
		raw, err = e.fetch(ctx, u.String())
	case "file", "":
		if !e.local {
			return nil, fmt.Errorf("%w: %q", ErrLocalSource, src)
		}
		path := u.Path
		if u.Scheme == "" {
			path = src
		}
		raw, err = os.ReadFile(path)
	default:
		return nil, fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("error decoding image: %w", err)
	}

	return &imageHandle{img: img, quality: e.quality}, nil
}

// ErrLocalSource is returned for local sources when they are not enabled.
var ErrLocalSource = errors.New("local image sources are disabled")

// errStatus marks a response that will not improve on retry.
var errStatus = errors.New("unexpected status")

func (e *HTTPEditor) fetch(ctx context.Context, src string) ([]byte, error) {
	var body []byte
	b := retry.WithMaxRetries(fetchRetries, retry.NewExponential(e.backoff))
	if err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := e.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("error waiting to fetch: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return err
		}

		resp, err := e.client.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("error fetching image: %w", err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("%w: %d", errStatus, resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("%w: %d", errStatus, resp.StatusCode)
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes+1))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("error reading image: %w", err))
		}
		if len(body) > maxSourceBytes {
			return fmt.Errorf("image exceeds %d bytes", maxSourceBytes)
		}

		return nil
	}); err != nil {
		return nil, err
	}

	return body, nil
}

type imageHandle struct {
	img     image.Image
	orig    image.Point
	quality int
}

func (h *imageHandle) OriginalSize() (int, int) {
	if h.orig == (image.Point{}) {
		return h.img.Bounds().Dx(), h.img.Bounds().Dy()
	}

	return h.orig.X, h.orig.Y
}

func (h *imageHandle) Resize(width, height int) error {
	if width <= 0 {
		return fmt.Errorf("invalid target width %d", width)
	}

	b := h.img.Bounds()
	if h.orig == (image.Point{}) {
		h.orig = image.Pt(b.Dx(), b.Dy())
	}
	if b.Dx() == 0 || b.Dy() == 0 {
		return errors.New("image has no pixels")
	}
	// Never upscale.
	if width >= b.Dx() {
		return nil
	}
	if height <= 0 {
		height = max(1, b.Dy()*width/b.Dx())
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), h.img, b, draw.Src, nil)
	h.img = dst

	return nil
}

// Save encodes the image as JPEG and moves it into place once fully written.
func (h *imageHandle) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating media dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".resize-*")
	if err != nil {
		return fmt.Errorf("error creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := jpeg.Encode(tmp, h.img, &jpeg.Options{Quality: h.quality}); err != nil {
		tmp.Close()
		return fmt.Errorf("error encoding jpeg: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("error moving resized image into place: %w", err)
	}

	return nil
}
