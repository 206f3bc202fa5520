// Package zecflog is a thin structured-logging wrapper in the shape of
// go-ethereum's log package: leveled calls taking a message plus variadic
// key/value context, rather than format strings. It is built on the
// standard library's log/slog rather than a third-party logging library
// because slog is itself what the teacher's own modern log package wraps
// — there is no corpus dependency for this concern to adopt instead.
package zecflog

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps an *slog.Logger with go-ethereum-style level methods.
type Logger struct {
	s *slog.Logger
}

var root = New(os.Stderr, slog.LevelInfo, false)

// Root returns the process-wide default logger.
func Root() *Logger { return root }

// SetRoot replaces the process-wide default logger, used once at startup
// once the configured level/format is known.
func SetRoot(l *Logger) { root = l }

// New builds a Logger writing to w at the given level. jsonFormat selects
// JSON output (suited to log aggregation) over human-readable text.
func New(w io.Writer, level slog.Level, jsonFormat bool) *Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if jsonFormat {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{s: slog.New(h)}
}

// With returns a Logger that always includes the given key/value context,
// mirroring the teacher's logger.With("component", "JobWorker") idiom.
func (l *Logger) With(ctx ...any) *Logger {
	return &Logger{s: l.s.With(ctx...)}
}

func (l *Logger) Debug(msg string, ctx ...any) { l.s.Debug(msg, ctx...) }
func (l *Logger) Info(msg string, ctx ...any)  { l.s.Info(msg, ctx...) }
func (l *Logger) Warn(msg string, ctx ...any)  { l.s.Warn(msg, ctx...) }
func (l *Logger) Error(msg string, ctx ...any) { l.s.Error(msg, ctx...) }

// Crit logs at error level and terminates the process; reserved for
// startup failures (bad config, unreachable store) that make running
// pointless, matching geth's Crit/Fatalf convention.
func (l *Logger) Crit(msg string, ctx ...any) {
	l.s.Error(msg, ctx...)
	os.Exit(1)
}

// FromContext allows handlers to carry a request/run-scoped logger without
// threading an explicit parameter through every call.
type ctxKey struct{}

func Into(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return root
}

// ParseLevel maps a config string to an slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
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
