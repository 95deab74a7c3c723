// Package kblog wraps log/slog with a small Fields helper, matching the
// teacher's own stdlib-first diagnostics (it carries no logging framework
// dependency at all) while still giving request and rebuild logging a
// structured, leveled home.
package kblog

import (
	"context"
	"log/slog"
	"os"
)

// Fields is a convenience alias for building structured log attributes
// without repeating slog.String/slog.Int everywhere call sites log.
type Fields map[string]any

// New builds a slog.Logger writing JSON lines to os.Stderr at level
// ("debug", "warn", "error"; anything else means info).
func New(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch level {
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

// With attaches fields to logger, converting the map to slog attributes.
func With(logger *slog.Logger, fields Fields) *slog.Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}

	return logger.With(args...)
}

// LogFault records a kbfault-shaped error at the appropriate level: faults
// marked retryable, not found, or validation log at Warn, everything else at
// Error.
func LogFault(ctx context.Context, logger *slog.Logger, msg string, kind, code string, retryable bool, err error) {
	level := slog.LevelError
	if retryable || kind == "not_found" || kind == "validation" {
		level = slog.LevelWarn
	}

	logger.Log(ctx, level, msg, "fault_kind", kind, "fault_code", code, "error", err)
}
