package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var (
	providerMu sync.Mutex
	provider   *sdktrace.TracerProvider
)

// InitOpenTelemetry installs a process-wide tracer provider for the daemon.
// A second call is a no-op until ShutdownOpenTelemetry runs.
func InitOpenTelemetry(serviceName, version string) error {
	providerMu.Lock()
	defer providerMu.Unlock()

	if provider != nil {
		return nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return err
	}

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return nil
}

// ShutdownOpenTelemetry flushes the tracer provider and forgets it, so a
// daemon started later in the same process gets a fresh one.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.Lock()
	tp := provider
	provider = nil
	providerMu.Unlock()

	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span tagged with the conversation and lane found in
// ctx. The span's trace id becomes the context trace id when none is set.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	if id := GetConversationID(ctx); id != "" {
		attrs = append(attrs, attribute.String("conversation_id", id))
	}
	if lane := GetLane(ctx); lane != "" {
		attrs = append(attrs, attribute.String("lane", lane))
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}

// SpanError marks span as failed with err; a nil err is ignored
func SpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
