package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name used for spans opened by this module
const TracerName = "github.com/nkkko/supports"

// StartSpan starts a new span with the given name
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer(TracerName).Start(ctx, name, opts...)
}

// StartNotificationSpan starts a span describing the delivery of one notification
func StartNotificationSpan(ctx context.Context, op, name, object string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("notification.name", name),
	}
	if object != "" {
		attrs = append(attrs, attribute.String("notification.object", object))
	}
	return StartSpan(ctx, op, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindProducer))
}

// AddSpanAttributes adds attributes to the current span
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// AddSpanEvent adds an event to the current span
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// MarkSpanError marks the current span as having an error
func MarkSpanError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
}
