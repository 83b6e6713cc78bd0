package logger

import (
	"context"
)

// ContextKey is used for context values
type ContextKey string

const (
	// SessionIDKey is the context key for the gate session ID
	SessionIDKey ContextKey = "session_id"
	// StatementIDKey is the context key for the statement ID
	StatementIDKey ContextKey = "statement_id"
	// RequestIDKey is the context key for request ID
	RequestIDKey ContextKey = "request_id"
)

// WithContextValue adds a value to the context for logging
func WithContextValue(ctx context.Context, key ContextKey, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

// ExtractContextValues extracts logging-relevant values from context
func ExtractContextValues(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}

	var args []any
	for _, key := range []ContextKey{SessionIDKey, StatementIDKey, RequestIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			args = append(args, string(key), v)
		}
	}
	return args
}
