package log

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
	ansiCyan   = "\033[36m"
)

// TerminalHandler writes coloured single-line records. An "entity"
// attribute is lifted out of the attribute list into a prefix:
//
//	15:04:05.000 INF [authors] rebuild finished documents=3
type TerminalHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	entity string
	attrs  []slog.Attr
	prefix string
}

// NewTerminalHandler creates a TerminalHandler. A nil opts logs at INFO.
func NewTerminalHandler(w io.Writer, opts *slog.HandlerOptions) *TerminalHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &TerminalHandler{mu: &sync.Mutex{}, w: w, level: level}
}

// Enabled implements slog.Handler.
func (h *TerminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *TerminalHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	entity := h.entity
	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == EntityAttr && h.prefix == "" {
			entity = a.Value.String()
			return true
		}
		attrs = append(attrs, qualify(a, h.prefix))
		return true
	})

	buf := bytes.NewBuffer(make([]byte, 0, 256))
	buf.WriteString(ansiDim + ts.Format("15:04:05.000") + ansiReset + " ")
	color, label := levelStyle(r.Level)
	buf.WriteString(color + label + ansiReset + " ")
	if entity != "" {
		buf.WriteString(ansiBlue + "[" + entity + "]" + ansiReset + " ")
	}
	buf.WriteString(ansiBold + r.Message + ansiReset)
	for _, a := range attrs {
		writeAttr(buf, a, "")
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

// WithAttrs implements slog.Handler.
func (h *TerminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(clone.attrs, h.attrs)
	for _, a := range attrs {
		if a.Key == EntityAttr && h.prefix == "" {
			clone.entity = a.Value.String()
			continue
		}
		clone.attrs = append(clone.attrs, qualify(a, h.prefix))
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *TerminalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func qualify(a slog.Attr, prefix string) slog.Attr {
	if prefix != "" {
		a.Key = prefix + a.Key
	}
	return a
}

func levelStyle(level slog.Level) (string, string) {
	switch {
	case level < slog.LevelInfo:
		return ansiCyan, "DBG"
	case level < slog.LevelWarn:
		return ansiGreen, "INF"
	case level < slog.LevelError:
		return ansiYellow, "WRN"
	default:
		return ansiRed, "ERR"
	}
}

func writeAttr(buf *bytes.Buffer, a slog.Attr, prefix string) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			writeAttr(buf, ga, prefix)
		}
		return
	}
	buf.WriteString(" " + ansiDim + prefix + a.Key + "=" + ansiReset)
	buf.WriteString(formatValue(a.Value))
}

func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if s == "" || strings.ContainsAny(s, " \t\n\"\\=") {
			return strconv.Quote(s)
		}
		return s
	case slog.KindDuration:
		return v.Duration().Round(time.Millisecond).String()
	default:
		return v.String()
	}
}
