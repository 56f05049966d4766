// Package logging configures the process-wide slog logger.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Setup installs a default logger writing text to stderr at level and, when
// warningFile is set, JSON lines at warn and above to that file. The returned
// closer releases the file.
func Setup(level string, warningFile string) (io.Closer, error) {
	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: ParseLevel(level)}),
	}

	var closer io.Closer = nopCloser{}

	if warningFile != "" {
		if err := os.MkdirAll(filepath.Dir(warningFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}

		f, err := os.OpenFile(warningFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open warning log: %w", err)
		}

		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelWarn}))
		closer = f
	}

	slog.SetDefault(slog.New(NewFanout(handlers...)))

	return closer, nil
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Fanout forwards each record to every handler that is enabled for its level.
type Fanout struct {
	handlers []slog.Handler
}

func NewFanout(handlers ...slog.Handler) *Fanout {
	return &Fanout{handlers: handlers}
}

func (f *Fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *Fanout) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h.WithAttrs(attrs))
	}
	return &Fanout{handlers: handlers}
}

func (f *Fanout) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h.WithGroup(name))
	}
	return &Fanout{handlers: handlers}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
