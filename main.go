// Postsync caches posts fetched from a social media API.
//
// Each post is stored once, encrypted, with its media resized to a fixed set
// of widths, and linked to every feed that displays it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/sethvargo/go-envconfig"
	"golang.org/x/sync/errgroup"

	"github.com/jdholdren/postsync/internal/api"
	"github.com/jdholdren/postsync/internal/crypt"
	"github.com/jdholdren/postsync/internal/errsink"
	"github.com/jdholdren/postsync/internal/extract"
	"github.com/jdholdren/postsync/internal/media"
	"github.com/jdholdren/postsync/internal/metrics"
	"github.com/jdholdren/postsync/internal/migrations"
	"github.com/jdholdren/postsync/internal/postsync"
	"github.com/jdholdren/postsync/internal/sqlite"
	"github.com/jdholdren/postsync/logger"
)

type config struct {
	Port     int    `env:"PORT, default=4444"`
	Database string `env:"DATABASE, required"`

	// Key material for payloads at rest
	EncryptionSecret string `env:"ENCRYPTION_SECRET, required"`

	MediaDir      string        `env:"MEDIA_DIR, default=./media"`
	MediaWidths   []int         `env:"MEDIA_WIDTHS, default=150,320,640"`
	MediaQuality  int           `env:"MEDIA_QUALITY, default=85"`
	ResizeTimeout time.Duration `env:"RESIZE_TIMEOUT, default=30s"`
	// Zero runs one worker per (width, asset) attempt
	ResizeWorkers int           `env:"RESIZE_WORKERS, default=0"`
	FetchTimeout  time.Duration `env:"FETCH_TIMEOUT, default=10s"`
	// Source image fetches per second across all workers, 0 for no limit
	FetchRate     float64       `env:"FETCH_RATE, default=0"`
	FetchBurst    int           `env:"FETCH_BURST, default=4"`

	CorsOrigin string `env:"CORS_ORIGIN, default=*"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(cfg.LoggerFormat))

	// Start the application
	if err := run(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config) error {
	slog.Info("running",
		"port", cfg.Port,
		"database", cfg.Database,
		"media_dir", cfg.MediaDir,
		"media_widths", cfg.MediaWidths,
	)

	// Connect to the db
	dbx, err := sqlite.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer dbx.Close()

	// Migrate, always
	if err := migrations.Run(dbx); err != nil {
		return fmt.Errorf("error migrating: %w", err)
	}

	enc, err := crypt.New([]byte(cfg.EncryptionSecret))
	if err != nil {
		return fmt.Errorf("error creating encryptor: %w", err)
	}

	var (
		repo     = sqlite.New(dbx)
		sink     = errsink.New(errsink.DefaultLimit)
		reporter = metrics.Reporter{Next: sink}
		editor   = media.NewHTTPEditor(&http.Client{Timeout: cfg.FetchTimeout}, cfg.MediaQuality,
			media.WithFetchLimit(cfg.FetchRate, cfg.FetchBurst),
		)
		resizer = metrics.Resizer{Next: media.NewResizer(editor, reporter,
			media.WithWorkers(resizeWorkers(cfg)),
			media.WithTimeout(cfg.ResizeTimeout),
		)}
		records = postsync.NewRecords(repo, resizer, enc, extract.Graph{}, reporter, postsync.RecordsConfig{
			Widths:   cfg.MediaWidths,
			MediaDir: cfg.MediaDir,
		})
		links    = postsync.NewLinks(repo, reporter)
		ingester = postsync.NewIngester(records, links, extract.Graph{}, reporter)
		s        = api.NewServer(api.ServerConfig{
			Port:       cfg.Port,
			CorsOrigin: cfg.CorsOrigin,
		}, ingester, records, links, sink)
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Start the server
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %w", err)
		}

		return nil
	})
	g.Go(func() error {
		// Block from shutting down until the group is canceled
		<-gCtx.Done()

		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("error running: %w", err)
	}

	return nil
}

// resizeWorkers bounds the pool at one worker per attempt of a full post.
func resizeWorkers(cfg config) int {
	if cfg.ResizeWorkers > 0 {
		return cfg.ResizeWorkers
	}

	return media.MaxAssets * max(1, len(cfg.MediaWidths))
}
