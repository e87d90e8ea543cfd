package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// process-wide fallback; components that are constructed explicitly take a
// *slog.Logger instead of reaching for this one
var defaultLogger = New("development", "", os.Stderr)

// New builds a logger for the given environment. Production logs JSON at
// info and above; everything else logs text at debug and above. A non-empty
// level overrides the environment's default.
func New(env, level string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level, env)}

	if env == "production" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// Init replaces the default logger. Called once from main after config is loaded.
func Init(env, level string) *slog.Logger {
	out := os.Stderr
	if env == "production" {
		out = os.Stdout
	}

	defaultLogger = New(env, level, out)
	slog.SetDefault(defaultLogger)

	return defaultLogger
}

func parseLevel(level, env string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	if env == "production" {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

// returns the default logger instance
func Default() *slog.Logger {
	return defaultLogger
}

// returns l, or the default logger when l is nil
func Or(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return defaultLogger
}

// creates a logger with additional context fields
func With(args ...any) *slog.Logger {
	return defaultLogger.With(args...)
}

// returns the logger stored in ctx, or the default
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return defaultLogger
	}

	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}

	return defaultLogger
}

// adds logger to context
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

type loggerKey struct{}

func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

// logs an error under the "error" key
func ErrorErr(err error, msg string, args ...any) {
	args = append(args, "error", err)
	defaultLogger.Error(msg, args...)
}

// logs with error and exits (for CLI tools)
func FatalErr(err error, msg string, args ...any) {
	args = append(args, "error", err)
	defaultLogger.Error(msg, args...)
	os.Exit(1)
}
