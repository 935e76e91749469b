package logger

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// SpanExporter writes finished spans to a zap logger at debug level, and
// failed spans at warn level.
type SpanExporter struct {
	log *zap.Logger
}

var _ sdktrace.SpanExporter = (*SpanExporter)(nil)

// NewSpanExporter returns an exporter logging to log.
func NewSpanExporter(log *zap.Logger) *SpanExporter {
	return &SpanExporter{log: log}
}

// ExportSpans logs every span with its duration, status and attributes.
func (e *SpanExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		fields := []zap.Field{
			zap.String("span", s.Name()),
			zap.Duration("duration", s.EndTime().Sub(s.StartTime())),
			zap.String("trace_id", s.SpanContext().TraceID().String()),
		}
		for _, kv := range s.Attributes() {
			fields = append(fields, zap.String(string(kv.Key), kv.Value.Emit()))
		}
		if st := s.Status(); st.Description != "" {
			fields = append(fields, zap.String("status", st.Description))
			e.log.Warn("span failed", fields...)
			continue
		}
		e.log.Debug("span finished", fields...)
	}
	return nil
}

// Shutdown flushes the logger.
func (e *SpanExporter) Shutdown(context.Context) error {
	_ = e.log.Sync()
	return nil
}

// NewTracerProvider returns a tracer provider exporting synchronously to
// log. Callers shut it down when the run ends.
func NewTracerProvider(log *zap.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSyncer(NewSpanExporter(log)))
}
