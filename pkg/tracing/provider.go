package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/MeadeCPA-Ocrolus/banklink/pkg/tracing/exporters"
)

// Init configures the global tracer provider. When no collector endpoint is
// configured the spans are exported to a noop exporter so span creation stays cheap.
func Init(ctx context.Context, serviceName, otlpEndpoint string) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	if otlpEndpoint == "" {
		exporter = &exporters.NoopExporter{}
	} else {
		cfg := exporters.DefaultOTLPConfig()
		cfg.Endpoint = otlpEndpoint
		var err error
		exporter, err = exporters.NewOTLPExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	res, err := sdkresource.New(ctx,
		sdkresource.WithAttributes(
			semconv.ServiceName(serviceName),
			attribute.String("service.component", "banklink"),
		),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(provider)
	SetTracer(provider.Tracer(serviceName))

	return provider.Shutdown, nil
}
