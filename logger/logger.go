// Package logger carries structured attributes through a context so that
// every log line written for a post or feed is tagged with it.
package logger

import (
	"context"
	"log/slog"
	"os"
)

type contextKey string

const attrKey contextKey = "attrKey"

// ContextHandler implements [slog.Handler] and appends any attributes that were
// attached to the context with [Ctx].
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler wraps `handler` so it picks attributes up from the context.
func NewContextHandler(handler slog.Handler) ContextHandler {
	return ContextHandler{Handler: handler}
}

// Handle implements [slog.Handler].
func (h ContextHandler) Handle(ctx context.Context, record slog.Record) error {
	if attrs, ok := ctx.Value(attrKey).([]slog.Attr); ok {
		record.AddAttrs(attrs...)
	}

	return h.Handler.Handle(ctx, record)
}

// WithAttrs keeps the wrapper when slog derives a child handler.
func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup keeps the wrapper when slog derives a child handler.
func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// Ctx returns a context carrying `toAppend` in addition to whatever attributes
// the parent already had.
func Ctx(ctx context.Context, toAppend ...slog.Attr) context.Context {
	existing, _ := ctx.Value(attrKey).([]slog.Attr)

	// Copy so sibling contexts never share a backing array.
	attrs := make([]slog.Attr, 0, len(existing)+len(toAppend))
	attrs = append(attrs, existing...)
	attrs = append(attrs, toAppend...)
	return context.WithValue(ctx, attrKey, attrs)
}

// WithFeed tags the context with the feed being ingested.
func WithFeed(ctx context.Context, feedID string) context.Context {
	return Ctx(ctx, slog.String("feed_id", feedID))
}

// WithPost tags the context with the external id of the post being handled.
func WithPost(ctx context.Context, externalID string) context.Context {
	return Ctx(ctx, slog.String("external_post_id", externalID))
}

// New builds the process logger: text by default, JSON when format is "json".
func New(format string) *slog.Logger {
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, nil)
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	}

	return slog.New(NewContextHandler(handler))
}
