package bus

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("evbus-tracer")

// startHandlerSpan opens a span for one handler invocation, tagging it with
// the envelope identity fields a operator would want to correlate against
// logs.
func startHandlerSpan(ctx context.Context, spanName string, env Envelope, handlerID string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, spanName)
	span.SetAttributes(
		attribute.String("evbus.event_type", env.MessageType),
		attribute.String("evbus.module", env.Module),
		attribute.String("evbus.correlation_id", env.CorrelationID),
		attribute.String("evbus.message_id", env.MessageID),
		attribute.String("evbus.handler_id", handlerID),
	)
	return ctx, span
}
