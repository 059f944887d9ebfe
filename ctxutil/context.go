package ctxutil

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDKey is the key trace ids are stored under, in contexts and log fields.
const TraceIDKey = "trace_id"

type ctxKey string

const ginContextKey ctxKey = "gin_context"

// WithGinContext returns a context.Context that embeds the *gin.Context.
func WithGinContext(ctx context.Context, c *gin.Context) context.Context {
	return context.WithValue(ctx, ginContextKey, c)
}

// GetGinContext extracts *gin.Context from context.Context if it exists.
func GetGinContext(ctx context.Context) (*gin.Context, bool) {
	if c, ok := ctx.Value(ginContextKey).(*gin.Context); ok {
		return c, ok
	}
	return nil, false
}

// GetTraceID gets trace id from context.Context, gin.Context or the active span.
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if c, ok := GetGinContext(ctx); ok {
		if v, exists := c.Get(TraceIDKey); exists {
			if traceID, ok := v.(string); ok && traceID != "" {
				return traceID
			}
		}
	}
	if traceID, ok := ctx.Value(ctxKey(TraceIDKey)).(string); ok && traceID != "" {
		return traceID
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// SetTraceID sets trace id to context.Context and gin.Context if available.
func SetTraceID(ctx context.Context, traceID string) context.Context {
	if c, ok := GetGinContext(ctx); ok {
		c.Set(TraceIDKey, traceID)
	}
	return context.WithValue(ctx, ctxKey(TraceIDKey), traceID)
}

// EnsureTraceID ensures that a trace ID exists in the context.
func EnsureTraceID(ctx context.Context) (context.Context, string) {
	if traceID := GetTraceID(ctx); traceID != "" {
		return ctx, traceID
	}
	traceID := uuid.NewString()
	return SetTraceID(ctx, traceID), traceID
}
