package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a named tracer from the current global provider.
func Tracer(name string) trace.Tracer {
	return GetTracerProvider().Tracer(name)
}

// StartCommandSpan creates a span for a CLI command execution.
//
// Usage:
//
//	ctx, span := telemetry.StartCommandSpan(ctx, "run")
//	defer span.End()
func StartCommandSpan(ctx context.Context, cmdName string) (context.Context, trace.Span) {
	ctx, span := Tracer("commands").Start(ctx, "command."+cmdName)

	span.SetAttributes(
		attribute.String("command", cmdName),
		attribute.String("component", "cli"),
	)

	return ctx, span
}

// StartTaskSpan creates a span for one attempt of a pool task. A nil
// tracer falls back to the global provider.
func StartTaskSpan(ctx context.Context, tracer trace.Tracer, taskID string, attempt int) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = Tracer("pool")
	}
	ctx, span := tracer.Start(ctx, "task.attempt")

	span.SetAttributes(
		attribute.String("task.id", taskID),
		attribute.Int("task.attempt", attempt),
		attribute.String("component", "pool"),
	)

	return ctx, span
}

// StartAgentSpan creates a span around an external agent invocation.
func StartAgentSpan(ctx context.Context, agent, taskID string) (context.Context, trace.Span) {
	ctx, span := Tracer("agent").Start(ctx, "agent.invoke")

	span.SetAttributes(
		attribute.String("agent", agent),
		attribute.String("task.id", taskID),
		attribute.String("component", "agent"),
	)

	return ctx, span
}

// RecordSuccess marks a span as successful with optional result attributes.
func RecordSuccess(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Ok, "")
}

// RecordError records an error in a span and sets error status.
// This should be called when an operation fails.
//
// Usage:
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	    return err
//	}
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.Bool("error", true),
	)
}

// RecordDuration records the duration of an operation as a span attribute.
func RecordDuration(span trace.Span, name string, duration time.Duration) {
	span.SetAttributes(
		attribute.Int64(name+"_ms", duration.Milliseconds()),
	)
}
