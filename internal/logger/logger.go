// Package logger builds the service's slog logger: JSON by default, with
// secrets redacted by attribute key and the request's correlation ID attached
// to every record logged with a context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

// CorrelationIDKey is the context key for the correlation ID
const CorrelationIDKey contextKey = "correlation_id"

const redacted = "[REDACTED]"

// Config holds logger configuration
type Config struct {
	Level     string // debug, info, warn, error
	Format    string // json, text
	Output    string // stdout, stderr, or a file path
	AddSource bool
}

// DefaultConfig reads LOG_LEVEL, LOG_FORMAT, LOG_OUTPUT and LOG_ADD_SOURCE
func DefaultConfig() Config {
	return Config{
		Level:     getEnv("LOG_LEVEL", "info"),
		Format:    getEnv("LOG_FORMAT", "json"),
		Output:    getEnv("LOG_OUTPUT", "stdout"),
		AddSource: getBoolEnv("LOG_ADD_SOURCE", false),
	}
}

// New creates a new structured logger based on configuration. Unknown levels
// fall back to info; an unwritable output file falls back to stdout.
func New(cfg Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		if strings.EqualFold(cfg.Level, "warning") {
			level = slog.LevelWarn
		} else {
			level = slog.LevelInfo
		}
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: sanitizeAttributes,
	}

	out := openOutput(cfg.Output)
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(&contextHandler{Handler: handler})
}

func openOutput(target string) io.Writer {
	switch strings.ToLower(target) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stdout
	}
	return file
}

// contextHandler adds correlation_id from the record's context unless the
// caller already logged one
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := GetCorrelationID(ctx); id != "" && !hasAttr(r, string(CorrelationIDKey)) {
		r.AddAttrs(slog.String(string(CorrelationIDKey), id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

func hasAttr(r slog.Record, key string) bool {
	found := false
	r.Attrs(func(a slog.Attr) bool {
		found = a.Key == key
		return !found
	})
	return found
}

// sensitiveKeys are redacted on partial key match, so "session_token" and
// "password_hash" are covered
var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"hash",
	"session",
	"authorization",
	"cookie",
	"api_key",
}

func sanitizeAttributes(groups []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(key, sensitive) {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

// WithCorrelationID returns a logger carrying the correlation ID from ctx
func WithCorrelationID(ctx context.Context, logger *slog.Logger) *slog.Logger {
	correlationID := GetCorrelationID(ctx)
	if correlationID == "" {
		return logger
	}
	return logger.With(slog.String(string(CorrelationIDKey), correlationID))
}

// GetCorrelationID returns the correlation ID stored by SetCorrelationID,
// falling back to chi's request ID
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok && id != "" {
		return id
	}
	return middleware.GetReqID(ctx)
}

// SetCorrelationID adds a correlation ID to the context
func SetCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return defaultValue
}
