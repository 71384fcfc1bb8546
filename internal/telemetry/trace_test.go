package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// setupTestTracer creates a test tracer with in-memory exporter
func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	res, err := createResource(DefaultConfig())
	if err != nil {
		t.Fatalf("createResource failed: %v", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	providerMu.Lock()
	previous := globalProvider
	globalProvider = tp
	providerMu.Unlock()

	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		providerMu.Lock()
		globalProvider = previous
		providerMu.Unlock()
	})

	return tp, exporter
}

func attrMap(attrs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, a := range attrs {
		out[a.Key] = a.Value
	}
	return out
}

func TestStartCommandSpan(t *testing.T) {
	_, exporter := setupTestTracer(t)

	ctx := context.Background()
	spanCtx, span := StartCommandSpan(ctx, "run")
	if spanCtx == ctx {
		t.Error("expected new context with span, got same context")
	}
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "command.run" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "command.run")
	}

	attrs := attrMap(spans[0].Attributes)
	if attrs["command"].AsString() != "run" {
		t.Error("missing 'command' attribute")
	}
	if attrs["component"].AsString() != "cli" {
		t.Error("missing 'component' attribute")
	}
}

func TestStartTaskSpan(t *testing.T) {
	tp, exporter := setupTestTracer(t)

	tests := []struct {
		name   string
		tracer trace.Tracer
	}{
		{name: "global tracer"},
		{name: "explicit tracer", tracer: tp.Tracer("explicit")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter.Reset()

			_, span := StartTaskSpan(context.Background(), tt.tracer, "2.3", 2)
			span.End()

			spans := exporter.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			if spans[0].Name != "task.attempt" {
				t.Errorf("span name = %q", spans[0].Name)
			}
			attrs := attrMap(spans[0].Attributes)
			if attrs["task.id"].AsString() != "2.3" {
				t.Errorf("task.id = %v", attrs["task.id"].AsString())
			}
			if attrs["task.attempt"].AsInt64() != 2 {
				t.Errorf("task.attempt = %v", attrs["task.attempt"].AsInt64())
			}
		})
	}
}

func TestStartAgentSpan(t *testing.T) {
	_, exporter := setupTestTracer(t)

	_, span := StartAgentSpan(context.Background(), "claude", "1.1")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := attrMap(spans[0].Attributes)
	if attrs["agent"].AsString() != "claude" || attrs["task.id"].AsString() != "1.1" {
		t.Errorf("unexpected attributes: %v", spans[0].Attributes)
	}
}

func TestRecordSuccess(t *testing.T) {
	_, exporter := setupTestTracer(t)

	_, span := StartCommandSpan(context.Background(), "ready")
	RecordSuccess(span, attribute.Int("tasks", 4))
	span.End()

	got := exporter.GetSpans()[0]
	if got.Status.Code != codes.Ok {
		t.Errorf("status = %v, want Ok", got.Status.Code)
	}
	if attrMap(got.Attributes)["tasks"].AsInt64() != 4 {
		t.Error("missing 'tasks' attribute")
	}
}

func TestRecordError(t *testing.T) {
	_, exporter := setupTestTracer(t)

	_, span := StartCommandSpan(context.Background(), "mark")
	RecordError(span, errors.New("task not found"))
	span.End()

	got := exporter.GetSpans()[0]
	if got.Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", got.Status.Code)
	}
	if got.Status.Description != "task not found" {
		t.Errorf("description = %q", got.Status.Description)
	}
	if len(got.Events) == 0 {
		t.Error("expected an exception event")
	}
}

func TestRecordErrorWithNil(t *testing.T) {
	_, exporter := setupTestTracer(t)

	_, span := StartCommandSpan(context.Background(), "mark")
	RecordError(span, nil)
	span.End()

	if got := exporter.GetSpans()[0]; got.Status.Code != codes.Unset {
		t.Errorf("status = %v, want Unset", got.Status.Code)
	}
}

func TestRecordDuration(t *testing.T) {
	_, exporter := setupTestTracer(t)

	_, span := StartCommandSpan(context.Background(), "run")
	RecordDuration(span, "agent", 1500*time.Millisecond)
	span.End()

	if v := attrMap(exporter.GetSpans()[0].Attributes)["agent_ms"].AsInt64(); v != 1500 {
		t.Errorf("agent_ms = %d, want 1500", v)
	}
}

func TestSpanContextPropagation(t *testing.T) {
	_, exporter := setupTestTracer(t)

	ctx, parent := StartCommandSpan(context.Background(), "run")
	_, child := StartTaskSpan(ctx, nil, "1.1", 1)
	child.End()
	parent.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("task span should be a child of the command span")
	}
}
