package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func attrValue(attrs []attribute.KeyValue, key string) (string, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}

func TestInitAndShutdownOpenTelemetry(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	if err := InitOpenTelemetry("printdesk", "test"); err != nil {
		t.Fatalf("InitOpenTelemetry failed: %v", err)
	}
	if err := InitOpenTelemetry("printdesk", "test"); err != nil {
		t.Fatalf("second InitOpenTelemetry failed: %v", err)
	}
	if err := ShutdownOpenTelemetry(context.Background()); err != nil {
		t.Fatalf("ShutdownOpenTelemetry failed: %v", err)
	}
	if err := ShutdownOpenTelemetry(context.Background()); err != nil {
		t.Fatalf("ShutdownOpenTelemetry without provider failed: %v", err)
	}

	// A later daemon in the same process gets a working provider again
	if err := InitOpenTelemetry("printdesk", "test"); err != nil {
		t.Fatalf("InitOpenTelemetry after shutdown failed: %v", err)
	}
	_, span := StartSpan(context.Background(), "printdesk.test", "after.restart")
	if !span.SpanContext().IsValid() {
		t.Error("Expected a recording span after re-initialization")
	}
	span.End()
	if err := ShutdownOpenTelemetry(context.Background()); err != nil {
		t.Fatalf("ShutdownOpenTelemetry failed: %v", err)
	}
}

func TestStartSpan_TagsConversationAndLane(t *testing.T) {
	rec := recordSpans(t)

	ctx := WithConversationID(context.Background(), "chat-9")
	ctx = WithLane(ctx, "conversation:chat-9")

	ctx, span := StartSpan(ctx, "printdesk.test", "router.process", attribute.Int("copies", 2))
	span.End()

	if GetTraceID(ctx) == "" {
		t.Error("Expected span trace id in context")
	}

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("Expected 1 ended span, got %d", len(ended))
	}
	attrs := ended[0].Attributes()
	if v, _ := attrValue(attrs, "conversation_id"); v != "chat-9" {
		t.Errorf("Expected conversation_id chat-9, got %q", v)
	}
	if v, _ := attrValue(attrs, "lane"); v != "conversation:chat-9" {
		t.Errorf("Expected lane attribute, got %q", v)
	}
	if v, _ := attrValue(attrs, "copies"); v != "2" {
		t.Errorf("Expected copies attribute, got %q", v)
	}
}

func TestStartSpan_NoConversation(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartSpan(context.Background(), "printdesk.test", "daemon.start")
	span.End()

	if _, ok := attrValue(rec.Ended()[0].Attributes(), "conversation_id"); ok {
		t.Error("Expected no conversation_id attribute")
	}
}

func TestSpanError(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartSpan(context.Background(), "printdesk.test", "printjob.submit")
	SpanError(span, nil)
	SpanError(span, errors.New("printer offline"))
	span.End()

	got := rec.Ended()[0].Status()
	if got.Code != codes.Error || got.Description != "printer offline" {
		t.Errorf("Expected error status, got %+v", got)
	}
}
