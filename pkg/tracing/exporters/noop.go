package exporters

import (
	"context"

	"go.opentelemetry.io/otel/sdk/trace"
)

// NoopExporter discards every span. Development and sandbox deployments run
// without a collector; span creation and context propagation still happen, the
// batches just go nowhere.
type NoopExporter struct{}

func (e *NoopExporter) ExportSpans(ctx context.Context, _ []trace.ReadOnlySpan) error {
	return nil
}

func (e *NoopExporter) Shutdown(ctx context.Context) error {
	return nil
}
