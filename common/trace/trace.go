// Package trace tags long-running operations with an ID that follows the
// operation through its context, its log lines and its notifications.
package trace

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}

// GenerateID returns a new operation ID of the form "op_<32 hex chars>".
func GenerateID() string {
	id := uuid.New()
	const hextable = "0123456789abcdef"
	buf := make([]byte, 0, 3+32)
	buf = append(buf, "op_"...)
	for _, b := range id {
		buf = append(buf, hextable[b>>4], hextable[b&0x0f])
	}
	return string(buf)
}

// WithTraceID returns a child context carrying id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// Ensure returns ctx unchanged when it already carries a trace ID, otherwise
// a child context with a fresh one.
func Ensure(ctx context.Context) context.Context {
	if FromContext(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, GenerateID())
}

// FromContext extracts the trace ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}
