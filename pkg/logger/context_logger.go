package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// FromContext returns a sugared logger annotated with the active trace and
// span IDs so log lines can be joined with Jaeger traces. Without a recording
// span the logger passes through unchanged.
func FromContext(ctx context.Context, log *zap.SugaredLogger) *zap.SugaredLogger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return log
	}
	return log.With(
		"trace_id", spanCtx.TraceID().String(),
		"span_id", spanCtx.SpanID().String(),
	)
}
