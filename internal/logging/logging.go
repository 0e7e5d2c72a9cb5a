// Package logging configures the process-wide slog logger. Component loggers
// from L may be created at package init, before Init runs; they follow
// whatever handler Init installs later.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyComponent  = "component"
	KeyProcedure  = "procedure"
	KeyStep       = "step"
	KeyVersion    = "version"
	KeyAsset      = "asset"
	KeyPath       = "path"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
)

type contextKey struct{}

// root holds the configured handler. Every Init bumps gen so derived
// handlers know to rebuild.
type root struct {
	handler atomic.Pointer[slog.Handler]
	gen     atomic.Uint64
}

func (r *root) set(h slog.Handler) {
	r.handler.Store(&h)
	r.gen.Add(1)
}

type derived struct {
	gen uint64
	h   slog.Handler
}

// lazyHandler replays WithAttrs/WithGroup calls, in order, on top of the
// current root handler and caches the result until the next Init.
type lazyHandler struct {
	root  *root
	ops   []func(slog.Handler) slog.Handler
	cache atomic.Pointer[derived]
}

func (h *lazyHandler) resolve() slog.Handler {
	gen := h.root.gen.Load()
	if d := h.cache.Load(); d != nil && d.gen == gen {
		return d.h
	}
	handler := *h.root.handler.Load()
	for _, op := range h.ops {
		handler = op(handler)
	}
	h.cache.Store(&derived{gen: gen, h: handler})
	return handler
}

func (h *lazyHandler) with(op func(slog.Handler) slog.Handler) *lazyHandler {
	ops := make([]func(slog.Handler) slog.Handler, len(h.ops), len(h.ops)+1)
	copy(ops, h.ops)
	return &lazyHandler{root: h.root, ops: append(ops, op)}
}

func (h *lazyHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.resolve().Enabled(ctx, level)
}

func (h *lazyHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.resolve().Handle(ctx, record)
}

func (h *lazyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(func(base slog.Handler) slog.Handler { return base.WithAttrs(attrs) })
}

func (h *lazyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(func(base slog.Handler) slog.Handler { return base.WithGroup(name) })
}

var (
	level         = new(slog.LevelVar)
	rootState     = newRoot(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	defaultLogger = slog.New(&lazyHandler{root: rootState})
)

func newRoot(h slog.Handler) *root {
	r := &root{}
	r.set(h)
	return r
}

func init() {
	slog.SetDefault(defaultLogger)
}

// Init installs the global handler. Call once after config is loaded, and
// again whenever the output changes.
// format: "json" or "text" (default "text")
// level: "debug", "info", "warn", "error" (default "info")
// output: writer to log to (nil = os.Stderr)
func Init(format, lvl string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}
	level.Set(parseLevel(lvl))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	rootState.set(handler)
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
}

// WithProcedure returns a child logger tagged with the running procedure's title.
func WithProcedure(logger *slog.Logger, title string) *slog.Logger {
	return logger.With(slog.String(KeyProcedure, title))
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
