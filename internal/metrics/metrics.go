// Package metrics exposes Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pserrs "github.com/jdholdren/postsync/internal/errors"
	"github.com/jdholdren/postsync/internal/media"
	"github.com/jdholdren/postsync/internal/postsync"
)

const namespace = "postsync"

var (
	// PostsTotal counts ingested posts by what happened to them.
	PostsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_total",
			Help:      "Total number of ingested posts",
		},
		[]string{"result"},
	)

	// LinksTotal counts feed links created.
	LinksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_links_total",
			Help:      "Total number of feed links created",
		},
	)

	// ResizeAttemptsTotal counts (width, asset) resize attempts.
	ResizeAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resize_attempts_total",
			Help:      "Total number of media resize attempts",
		},
		[]string{"result"},
	)

	// ResizeDuration measures a post's full resize matrix.
	ResizeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resize_duration_seconds",
			Help:      "Duration of a post's media resize in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ErrorsTotal counts error sink entries by kind.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of reported pipeline errors",
		},
		[]string{"kind"},
	)
)

// RecordIngest records the outcome of one ingest call.
func RecordIngest(rep postsync.Report) {
	PostsTotal.WithLabelValues("created").Add(float64(rep.Created))
	PostsTotal.WithLabelValues("existing").Add(float64(rep.Existing))
	PostsTotal.WithLabelValues("failed").Add(float64(rep.Failed))
	LinksTotal.Add(float64(rep.Linked))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Reporter counts entries before passing them on.
type Reporter struct {
	Next pserrs.Reporter
}

func (r Reporter) Add(kind string, details ...string) {
	ErrorsTotal.WithLabelValues(kind).Inc()
	r.Next.Add(kind, details...)
}

// Resizer times and counts the attempts of the resizer it wraps.
type Resizer struct {
	Next postsync.Resizer
}

func (r Resizer) Resize(ctx context.Context, req media.Request) media.Outcome {
	start := time.Now()
	out := r.Next.Resize(ctx, req)
	ResizeDuration.Observe(time.Since(start).Seconds())

	ResizeAttemptsTotal.WithLabelValues("saved").Add(float64(len(out.Saved)))
	ResizeAttemptsTotal.WithLabelValues("failed").Add(float64(out.Attempts - len(out.Saved)))

	return out
}
