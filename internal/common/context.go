package common

import (
	"context"
	"log/slog"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyPrincipal contextKey = "principal"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithPrincipal records which bearer token authenticated the request.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, ContextKeyPrincipal, principal)
}

func PrincipalFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(ContextKeyPrincipal).(string); ok {
		return p
	}
	return ""
}

// LoggerWithRequest returns logger annotated with the request ID carried by ctx, if any.
func LoggerWithRequest(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		return logger.With("req_id", rid)
	}
	return logger
}
