// Package trace carries per-request correlation identifiers through a context.
package trace

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type contextKey string

const (
	requestIDKey  contextKey = "requestID"
	operatorIDKey contextKey = "operatorID"
)

// ErrNoRequestIDInContext is returned when no request ID is found in context
var ErrNoRequestIDInContext = errors.New("no request ID found in context")

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// EnsureRequestID returns ctx unchanged when it already has a request ID,
// otherwise attaches a freshly generated one.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id, err := RequestIDFromContext(ctx); err == nil {
		return ctx, id
	}
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}

// RequestIDFromContext extracts the request ID from the context
func RequestIDFromContext(ctx context.Context) (string, error) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return "", ErrNoRequestIDInContext
	}
	return requestID, nil
}

// WithOperatorID records the acting operator for log correlation.
func WithOperatorID(ctx context.Context, operatorID int64) context.Context {
	return context.WithValue(ctx, operatorIDKey, operatorID)
}

// OperatorIDFromContext returns the acting operator, if any.
func OperatorIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(operatorIDKey).(int64)
	return id, ok && id > 0
}
