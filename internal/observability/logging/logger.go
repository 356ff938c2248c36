// Package logging builds the log/slog loggers used by the proxy and the dashboard
// and carries request-scoped loggers through contexts.
//
//	logger := logging.NewLogger()
//	slog.SetDefault(logger)
//
//	func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
//	    logging.WithRequestID(r.Context(), h.logger).Info("relaying request")
//	}
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"market-dashboard/internal/handler/http/requestid"

	"github.com/lmittmann/tint"
)

// ParseLevel maps LOG_LEVEL values (debug, info, warn, error) to a slog level.
// Unknown values fall back to info.
func ParseLevel(s string) slog.Level {
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

// NewLogger creates a JSON logger on stdout at the level named by LOG_LEVEL.
// Source locations are attached at warn level and below.
func NewLogger() *slog.Logger {
	return New(os.Stdout, ParseLevel(os.Getenv("LOG_LEVEL")), false)
}

// NewTextLogger is NewLogger with colored human-readable output, for local runs.
func NewTextLogger() *slog.Logger {
	return New(os.Stdout, ParseLevel(os.Getenv("LOG_LEVEL")), true)
}

// New creates a logger writing to w. Text output is colored only on stdout.
func New(w io.Writer, level slog.Level, text bool) *slog.Logger {
	addSource := level <= slog.LevelWarn
	if text {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  addSource,
			TimeFormat: time.TimeOnly,
			NoColor:    w != os.Stdout,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: addSource,
	}))
}

// WithRequestID returns a logger carrying the request ID found in ctx, if any.
func WithRequestID(ctx context.Context, logger *slog.Logger) *slog.Logger {
	reqID := requestid.FromContext(ctx)
	if reqID == "" {
		return logger
	}
	return logger.With("request_id", reqID)
}

// WithComponent tags every entry with the emitting component.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", component)
}

// WithFields returns a logger with additional structured fields.
func WithFields(logger *slog.Logger, fields map[string]any) *slog.Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return logger.With(args...)
}

// FromContext returns the logger stored in ctx, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

type contextKey string

const loggerContextKey contextKey = "logger"
