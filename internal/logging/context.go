package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type queryCtxKey struct{}

// WithQueryID tags ctx with the identifier of one retrieval.
func WithQueryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, queryCtxKey{}, id)
}

// QueryIDFromContext returns the retrieval identifier, or "".
func QueryIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(queryCtxKey{}).(string); ok {
		return id
	}
	return ""
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if id := QueryIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("query.id", id))
	}
	return fields
}
