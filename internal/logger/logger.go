// Package logger provides the structured logger shared by tracecraft
// components and carried through context.Context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type logger struct{}

// NewLogger creates a new slog.Logger. Without handlers it writes to stderr
// using the format from LOG_FORMAT (TEXT or JSON) and the level from LOG_LEVEL.
func NewLogger(h ...slog.Handler) *slog.Logger {
	var handler slog.Handler
	if len(h) > 0 {
		handler = h[0]
	} else {
		handler = newHandler()
	}
	return slog.New(handler)
}

// NewWithLevel creates a logger writing to w in the format from LOG_FORMAT
// with an explicit minimum level.
func NewWithLevel(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(handlerFor(w, os.Getenv("LOG_FORMAT"), level))
}

// NewContextWithLogger creates a new context derived from the given one
// carrying a new logger.
func NewContextWithLogger(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	return IntoContext(ctx, FromContext(parent)), cancel
}

// IntoContext embeds the provided slog.Logger into the given context.
func IntoContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, logger{}, log)
}

// FromContext extracts the slog.Logger from the given context.
// A new logger is returned if the context carries none.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if log, ok := ctx.Value(logger{}).(*slog.Logger); ok {
			return log
		}
	}
	return NewLogger()
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHandler() slog.Handler {
	return handlerFor(os.Stderr, os.Getenv("LOG_FORMAT"), getLevel(os.Getenv("LOG_LEVEL")))
}

func handlerFor(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		AddSource: level == slog.LevelDebug,
		Level:     level,
	}
	if strings.EqualFold(format, "TEXT") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// getLevel takes a level string and maps it to the corresponding slog.Level.
// Returns slog.LevelInfo for unknown or empty strings.
func getLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
