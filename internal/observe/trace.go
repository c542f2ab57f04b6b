package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every speakwell span.
const tracerName = "github.com/MrWong99/speakwell"

// ScoreSpan is the name of the span covering one scored utterance. Stage
// spans are its children, named "scorer.<stage>".
const ScoreSpan = "scorer.Score"

// StartSpan starts a span on the global tracer provider. End it with
// [EndSpan] or span.End.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartScore starts the [ScoreSpan] of one utterance.
func StartScore(ctx context.Context) (context.Context, trace.Span) {
	return StartSpan(ctx, ScoreSpan, trace.WithSpanKind(trace.SpanKindInternal))
}

// StartStage starts the span of one scoring stage. The returned func ends the
// span and records the stage latency on m.
func StartStage(ctx context.Context, m *Metrics, stage string) func() {
	start := time.Now()
	_, span := StartSpan(ctx, "scorer."+stage, trace.WithAttributes(attribute.String("stage", stage)))
	return func() {
		span.End()
		m.RecordStage(ctx, stage, time.Since(start))
	}
}

// EndSpan marks span failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID is the trace ID of the span in ctx as lowercase hex, or ""
// outside a traced request. API responses carry it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, tagged with trace_id and span_id when
// ctx carries a span so log lines can be matched to traces.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
