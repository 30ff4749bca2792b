package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "phasegate"

// StartPhaseSpan starts a span for an operation on one phase of a story.
func StartPhaseSpan(ctx context.Context, op, storyID string, phase int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, op,
		trace.WithAttributes(
			attribute.String("story.id", storyID),
			attribute.Int("phase.id", phase),
		),
	)
}

// StartStorySpan starts a span for a story-wide operation such as a merge.
func StartStorySpan(ctx context.Context, op, storyID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, op,
		trace.WithAttributes(attribute.String("story.id", storyID)),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
