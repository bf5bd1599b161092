// Package log builds the process logger. Records logged with a context pick
// up the request id, entity type and rebuild id stored in that context.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/cr0mbly/esbinder/internal/config"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	entityKey
	rebuildKey
)

// Attribute keys added from the context.
const (
	RequestIDAttr = "request_id"
	EntityAttr    = "entity"
	RebuildAttr   = "rebuild_id"
)

// New creates a logger writing to stdout in the configured format.
func New(cfg config.AppConfig) *slog.Logger {
	return NewWithWriter(os.Stdout, cfg.LogFormat(), cfg.LogLevel())
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, format config.LogFormat, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	switch format {
	case config.LogFormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = NewTerminalHandler(w, opts)
	}
	return slog.New(contextHandler{handler})
}

// Configure builds the logger for cfg and installs it as the slog default.
func Configure(cfg config.AppConfig) *slog.Logger {
	l := New(cfg)
	slog.SetDefault(l)
	return l
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ParseLevel maps a level name to a slog level. Unknown names are INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRequestID stores an HTTP request id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id stored in ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithEntity stores the entity type being worked on in ctx.
func WithEntity(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, entityKey, name)
}

// Entity returns the entity type stored in ctx.
func Entity(ctx context.Context) string {
	name, _ := ctx.Value(entityKey).(string)
	return name
}

// WithRebuild stores a rebuild id in ctx.
func WithRebuild(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, rebuildKey, id)
}

// Rebuild returns the rebuild id stored in ctx.
func Rebuild(ctx context.Context) string {
	id, _ := ctx.Value(rebuildKey).(string)
	return id
}

// contextHandler appends the ids carried by the record's context.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if id := RequestID(ctx); id != "" {
			r.AddAttrs(slog.String(RequestIDAttr, id))
		}
		if name := Entity(ctx); name != "" {
			r.AddAttrs(slog.String(EntityAttr, name))
		}
		if id := Rebuild(ctx); id != "" {
			r.AddAttrs(slog.String(RebuildAttr, id))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}
