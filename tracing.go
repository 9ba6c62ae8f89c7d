package latticeflow

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps cell init execution and resolve passes in spans. The default
// (noopTracer) costs nothing; WithTracer installs a real
// go.opentelemetry.io/otel/trace.Tracer via NewOTelTracer.
type Tracer interface {
	// StartInit opens a span around a cell's init function. The returned
	// func ends the span, recording err if non-nil.
	StartInit(ctx context.Context, cellID string) (context.Context, func(err error))
	// StartResolvePass opens a span around one cycle/fallback resolution
	// pass. kind is "cycles" or "fallback".
	StartResolvePass(ctx context.Context, kind string, cellCount int) (context.Context, func(err error))
}

type noopTracer struct{}

func (noopTracer) StartInit(ctx context.Context, _ string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (noopTracer) StartResolvePass(ctx context.Context, _ string, _ int) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// otelTracer adapts a trace.Tracer into the engine's Tracer interface.
type otelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer wraps an OpenTelemetry tracer (e.g. otel.Tracer("latticeflow"))
// for use with WithTracer.
func NewOTelTracer(tracer trace.Tracer) Tracer {
	return &otelTracer{tracer: tracer}
}

func (t *otelTracer) StartInit(ctx context.Context, cellID string) (context.Context, func(error)) {
	ctx, span := t.tracer.Start(ctx, "cell.init", trace.WithAttributes(attribute.String("cell.id", cellID)))
	return ctx, func(err error) {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}
}

func (t *otelTracer) StartResolvePass(ctx context.Context, kind string, cellCount int) (context.Context, func(error)) {
	ctx, span := t.tracer.Start(ctx, "pool.resolve."+kind, trace.WithAttributes(
		attribute.String("resolve.kind", kind),
		attribute.Int("resolve.cell_count", cellCount),
	))
	return ctx, func(err error) {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}
}
