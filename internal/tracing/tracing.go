// internal/tracing/tracing.go
// OpenTelemetry wiring for the stress tooling. Allocation itself is far
// too hot to trace, so spans wrap whole workload phases; what matters
// here is stamping each trace with the pool geometry that shaped the
// run and keeping span volume sane when a stress loop repeats the same
// phase thousands of times.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/hyperalloc/mempool/internal/sizeclass"
)

// Config selects the collector and how aggressively phase traces are
// kept.
type Config struct {
	// Endpoint is the Jaeger collector URL.
	Endpoint string

	// SampleRatio is the fraction of root phase traces to keep.
	// Values <= 0 fall back to keeping one in ten; >= 1 keeps all.
	SampleRatio float64
}

// Setup installs a tracer provider for the given collector and returns
// its shutdown hook. Every trace carries the pool's compile-time
// geometry so runs against different builds stay distinguishable in
// the collector.
func Setup(cfg Config) (func(context.Context) error, error) {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	if err != nil {
		return nil, fmt.Errorf("jaeger exporter: %w", err)
	}

	sampler := tracesdk.AlwaysSample()
	if cfg.SampleRatio < 1 {
		ratio := cfg.SampleRatio
		if ratio <= 0 {
			ratio = 0.1
		}
		sampler = tracesdk.ParentBased(tracesdk.TraceIDRatioBased(ratio))
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithSampler(sampler),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("mempool-stress"),
			attribute.Int("mempool.page_size", sizeclass.PageSize),
			attribute.Int("mempool.max_bytes", sizeclass.MaxBytes),
			attribute.Int("mempool.size_classes", sizeclass.NumClasses),
			attribute.Int("mempool.span_pages", sizeclass.SpanPages),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// PhaseSpan opens a span around one workload phase, stamped with the
// knobs that shaped it.
func PhaseSpan(ctx context.Context, phase string, workers, rounds, ops int) (context.Context, trace.Span) {
	return otel.Tracer("mempool/stress").Start(ctx, phase, trace.WithAttributes(
		attribute.Int("stress.workers", workers),
		attribute.Int("stress.rounds", rounds),
		attribute.Int("stress.ops_per_round", ops),
	))
}
