// Package tracing adapts an OpenTelemetry tracer to the engine's
// observability span surface, following the teacher's pkg/tracing/otel.go
// shape.
package tracing

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Tracer starts a span and returns a finish func that records err (if any)
// on the span before ending it. A nil *OTelTracer is a no-op Tracer.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error))
}

// OTelTracer adapts an OpenTelemetry tracer to Tracer.
type OTelTracer struct {
	tracer oteltrace.Tracer
}

// NewOTelTracer builds an OTelTracer from provider (or the global provider
// if nil) under the given instrumentation name.
func NewOTelTracer(provider oteltrace.TracerProvider, instrumentation string) *OTelTracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	if strings.TrimSpace(instrumentation) == "" {
		instrumentation = "ruleforge-engine"
	}
	return &OTelTracer{tracer: provider.Tracer(instrumentation)}
}

// NewGlobalTracer builds an OTelTracer against the global tracer provider.
func NewGlobalTracer(instrumentation string) *OTelTracer {
	return NewOTelTracer(nil, instrumentation)
}

// StartSpan implements Tracer.
func (t *OTelTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error)) {
	if t == nil || t.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := t.tracer.Start(ctx, name, oteltrace.WithAttributes(convertAttrs(attrs)...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func convertAttrs(attrs map[string]string) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	result := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		result = append(result, attribute.String(key, v))
	}
	return result
}
