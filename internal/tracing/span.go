package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartRunSpan starts the root span of a run.
func StartRunSpan(ctx context.Context, tracer trace.Tracer, runID string, attachments int, seed int64) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "streamfire run",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("streamfire.run_id", runID),
		attribute.Int("streamfire.attachments", attachments),
		attribute.Int64("streamfire.seed", seed),
	)
	return ctx, span
}

// StartAttachmentSpan starts the span covering one attachment from upload
// start to finalization.
func StartAttachmentSpan(ctx context.Context, tracer trace.Tracer, index int, size int64, duration time.Duration) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "streamfire attachment",
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	span.SetAttributes(
		attribute.Int("streamfire.attachment.index", index),
		attribute.Int64("streamfire.attachment.size", size),
		attribute.Int64("streamfire.attachment.duration_ms", duration.Milliseconds()),
	)
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectLabels injects W3C trace context into an object metadata map. It
// returns labels, allocating it when nil and there is something to inject.
func InjectLabels(ctx context.Context, labels map[string]string) map[string]string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return labels
	}
	if labels == nil {
		labels = make(map[string]string, len(carrier))
	}
	for k, v := range carrier {
		labels[k] = v
	}
	return labels
}
