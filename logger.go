package pagecache

import (
	"context"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
)

// Logger wraps slog.Logger with pagecache-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithLocation adds a location field to the logger.
func (l *Logger) WithLocation(location string) *Logger {
	return &Logger{
		Logger: l.Logger.With("location", location),
	}
}

// LogGetRange logs a ranged read.
func (l *Logger) LogGetRange(ctx context.Context, location string, start, end int64, hits, misses int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "get range failed",
			"location", location,
			"start", start,
			"end", end,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "get range completed",
		"location", location,
		"start", start,
		"end", end,
		"size", humanize.IBytes(uint64(max(end-start, 0))),
		"hits", hits,
		"misses", misses,
	)
}

// LogHead logs a metadata lookup.
func (l *Logger) LogHead(ctx context.Context, location string, size int64, err error) {
	if err != nil {
		l.DebugContext(ctx, "head failed",
			"location", location,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "head completed",
		"location", location,
		"size", humanize.IBytes(uint64(size)),
	)
}

// LogInvalidate logs a cache invalidation caused by a write.
func (l *Logger) LogInvalidate(ctx context.Context, location, op string, err error) {
	if err != nil {
		l.WarnContext(ctx, "invalidate failed",
			"location", location,
			"op", op,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "invalidated",
		"location", location,
		"op", op,
	)
}

// LogBackfillFailure logs a fetched page that could not be written back.
func (l *Logger) LogBackfillFailure(ctx context.Context, location string, pageID uint64, size int, err error) {
	l.WarnContext(ctx, "page back-fill failed",
		"location", location,
		"page", pageID,
		"size", humanize.IBytes(uint64(size)),
		"error", err,
	)
}

// LogCorruptPage logs a resident page that failed to decode and is refetched.
func (l *Logger) LogCorruptPage(ctx context.Context, location string, pageID uint64, err error) {
	l.WarnContext(ctx, "cached page corrupt",
		"location", location,
		"page", pageID,
		"error", err,
	)
}
