package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TraceIDHeader is the canonical HTTP header for propagating trace IDs.
const TraceIDHeader = "X-Trace-ID"

// TraceIDField is the structured logging field for trace identifiers.
const TraceIDField = "trace_id"

type contextKey string

var (
	loggerContextKey = contextKey("heatsurface-logger")
	traceContextKey  = contextKey("heatsurface-trace-id")
)

// ContextWithLogger stores a logger in the provided context.
func ContextWithLogger(ctx context.Context, logger *Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// LoggerFromContext retrieves a logger from context or falls back to the global logger.
func LoggerFromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return L()
	}
	if logger, ok := ctx.Value(loggerContextKey).(*Logger); ok && logger != nil {
		return logger
	}
	return L()
}

// TraceIDFromContext extracts a trace identifier from context.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	traceID, _ := ctx.Value(traceContextKey).(string)
	return traceID
}

// GenerateTraceID creates a random 16-byte trace identifier represented as hex.
func GenerateTraceID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err == nil {
		return hex.EncodeToString(buf[:])
	}
	return fmt.Sprintf("%x", time.Now().UnixNano())
}

// WithTrace enriches the context with a trace ID and returns the derived logger.
func WithTrace(ctx context.Context, base *Logger, traceID string) (context.Context, *Logger, string) {
	tid := strings.TrimSpace(traceID)
	if tid == "" {
		tid = GenerateTraceID()
	}
	if base == nil {
		base = L()
	}
	derived := base.With(String(TraceIDField, tid))
	ctx = context.WithValue(ctx, traceContextKey, tid)
	ctx = ContextWithLogger(ctx, derived)
	return ctx, derived, tid
}

// HTTPTraceMiddleware propagates a trace identifier through the request context and response headers.
func HTTPTraceMiddleware(base *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, logger, traceID := WithTrace(r.Context(), base, r.Header.Get(TraceIDHeader))
			w.Header().Set(TraceIDHeader, traceID)
			logger.Debug("request received", String("method", r.Method), String("path", r.URL.Path))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
