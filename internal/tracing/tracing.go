// Package tracing builds the OpenTelemetry tracer provider. Finished spans
// are written to the structured log.
package tracing

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const ServiceName = "textflow"

// NewProvider returns a provider sampling sampleRatio of root traces and
// exporting them to log. Shut it down to flush pending spans.
func NewProvider(sampleRatio float64, log zerolog.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(&logExporter{log: log}),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", ServiceName),
		)),
	)
}

type logExporter struct {
	log zerolog.Logger
}

func (e *logExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		sc := span.SpanContext()
		ev := e.log.Info().
			Str("span", span.Name()).
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String()).
			Dur("duration", span.EndTime().Sub(span.StartTime())).
			Str("status", span.Status().Code.String())
		if parent := span.Parent(); parent.IsValid() {
			ev = ev.Str("parent_id", parent.SpanID().String())
		}
		if desc := span.Status().Description; desc != "" {
			ev = ev.Str("status_message", desc)
		}
		for _, kv := range span.Attributes() {
			ev = ev.Str(string(kv.Key), kv.Value.Emit())
		}
		ev.Msg("span")
	}
	return nil
}

func (e *logExporter) Shutdown(ctx context.Context) error {
	return nil
}
