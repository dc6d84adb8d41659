package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/jdholdren/postsync/internal/errsink"
	"github.com/jdholdren/postsync/internal/metrics"
	"github.com/jdholdren/postsync/internal/postsync"
	"github.com/jdholdren/postsync/internal/server"
)

type (
	// Server accepts posts fetched for feeds and serves the cached results to
	// the rendering layer.
	Server struct {
		*http.Server

		ingester *postsync.Ingester
		records  *postsync.Records
		links    *postsync.Links
		sink     *errsink.Collector
	}

	ServerConfig struct {
		Port       int
		CorsOrigin string
		// Ingest requests resize media inline, so writes get far longer than reads.
		WriteTimeout time.Duration
	}
)

func NewServer(config ServerConfig, ingester *postsync.Ingester, records *postsync.Records, links *postsync.Links, sink *errsink.Collector) *Server {
	r := server.ErrRouter{Router: mux.NewRouter()}

	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 2 * time.Minute
	}
	if config.CorsOrigin == "" {
		config.CorsOrigin = "*"
	}

	srvr := Server{
		ingester: ingester,
		records:  records,
		links:    links,
		sink:     sink,
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: config.WriteTimeout,
			Handler: handlers.RecoveryHandler()(handlers.CORS(
				handlers.AllowedOrigins([]string{config.CorsOrigin}),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
				handlers.AllowedHeaders([]string{"content-type"}),
			)(r)),
		},
	}

	r.Use(server.AccessLogMiddleware) // Log everything
	r.HandleFuncE("/healthz", srvr.getHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Ingestion
	r.HandleFuncE("/v1/feeds/{feedID}/posts", srvr.postFeedPosts).Methods(http.MethodPost)

	// Reads for the rendering layer
	r.HandleFuncE("/v1/feeds/{feedID}/posts", srvr.getFeedPosts).Methods(http.MethodGet)
	r.HandleFuncE("/v1/posts/{externalID}", srvr.getPost).Methods(http.MethodGet)

	// Operator diagnostics
	r.HandleFuncE("/v1/errors", srvr.getErrors).Methods(http.MethodGet)
	r.HandleFuncE("/v1/errors", srvr.deleteErrors).Methods(http.MethodDelete)

	slog.Debug("configured api server", "port", config.Port)

	return &srvr
}

func (s Server) getHealth(w http.ResponseWriter, r *http.Request) error {
	return server.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
