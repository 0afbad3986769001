// ABOUTME: Logger setup: JSON handler for machines, a compact colorized handler for terminals.

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/askdb-gateway/internal/config"
)

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := parseLevel(cfg.Level)
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(newTermHandler(os.Stdout, level))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var (
	tagDebug = color.MagentaString("DBG")
	tagInfo  = color.CyanString("INF")
	tagWarn  = color.YellowString("WRN")
	tagError = color.New(color.FgRed, color.Bold).Sprint("ERR")
	dim      = color.New(color.FgHiBlack).SprintFunc()
)

// termHandler renders one colorized line per record. Clones made by
// WithAttrs carry their attrs pre-rendered in prefix and share the
// mutex so interleaved writes stay whole.
type termHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Level
	prefix string
	group  string
}

func newTermHandler(out io.Writer, level slog.Level) *termHandler {
	return &termHandler{mu: &sync.Mutex{}, out: out, level: level}
}

func (h *termHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level
}

func levelTag(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return tagError
	case l >= slog.LevelWarn:
		return tagWarn
	case l >= slog.LevelInfo:
		return tagInfo
	default:
		return tagDebug
	}
}

func (h *termHandler) renderAttr(b *strings.Builder, a slog.Attr) {
	b.WriteString(dim(" " + h.group + a.Key + "="))
	b.WriteString(a.Value.String())
}

func (h *termHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(dim(r.Time.Format("15:04:05")))
	b.WriteByte(' ')
	b.WriteString(levelTag(r.Level))
	b.WriteByte(' ')
	b.WriteString(r.Message)
	b.WriteString(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		h.renderAttr(&b, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *termHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, a := range attrs {
		h.renderAttr(&b, a)
	}
	next.prefix = b.String()
	return &next
}

func (h *termHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = h.group + name + "."
	return &next
}
