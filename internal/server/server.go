// Package server holds the HTTP plumbing shared by the API handlers.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jdholdren/postsync/api"
	pserrs "github.com/jdholdren/postsync/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("error encoding json response: %s", err)
	}

	return nil
}

// Validator is a surface that can validate itself and return an error
// if something is wrong.
type Validator interface {
	Validate() error
}

// DecodeValid decodes a request and then validates it. Malformed bodies come
// back as a 400.
func DecodeValid[V Validator](r io.Reader) (V, error) {
	var v V
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return v, pserrs.E(pserrs.InvalidRequest, http.StatusBadRequest, fmt.Errorf("error decoding request: %w", err))
	}
	if err := v.Validate(); err != nil {
		return v, err
	}

	return v, nil
}

func AccessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.DebugContext(r.Context(), "request received", "method", r.Method, "path", r.URL.Path)
		start := time.Now()

		writer := &respCodeWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(writer, r)

		slog.InfoContext(r.Context(), "request completed",
			"method", r.Method,
			"url", r.URL.String(),
			"duration", time.Since(start),
			"status_code", writer.code,
		)
	})
}

// To trap the response status code for logging later.
type respCodeWriter struct {
	http.ResponseWriter
	code int
}

func (w *respCodeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// HandlerFuncE is a modified type of [http.HandlerFunc] that returns an error.
type HandlerFuncE func(w http.ResponseWriter, r *http.Request) error

func (f HandlerFuncE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := f(w, r)
	if err == nil {
		return
	}

	// Either it's already a structured error, or coerce it to one
	sErr := &pserrs.Error{}
	var apiErr api.Error
	switch {
	case errors.As(err, &sErr):
	case errors.As(err, &apiErr):
		details := make([]pserrs.Detail, 0, len(apiErr.Details))
		for _, d := range apiErr.Details {
			details = append(details, pserrs.Detail{Field: d.Field, Error: d.Error})
		}
		sErr = pserrs.E(pserrs.InvalidRequest, http.StatusBadRequest, apiErr.Message, details)
	default:
		slog.ErrorContext(r.Context(), "unhandled error", "error", err)
		sErr = pserrs.E(http.StatusInternalServerError, "internal server error")
	}

	if err := WriteJSON(w, sErr.Status, sErr); err != nil {
		slog.ErrorContext(r.Context(), "error writing response", "error", err)
	}
}

// ErrRouter is a newtype around a mux router that allows attaching handlers that return errors.
type ErrRouter struct {
	*mux.Router
}

func (r ErrRouter) HandleFuncE(path string, f HandlerFuncE) *mux.Route {
	return r.Handle(path, f)
}
