package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// spanNamed returns the recorded span with the given name.
func spanNamed(t *testing.T, exp *tracetest.InMemoryExporter, name string) tracetest.SpanStub {
	t.Helper()
	for _, s := range exp.GetSpans() {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("span %q not recorded", name)
	return tracetest.SpanStub{}
}

// captureLogs points the default logger at a buffer for the test's duration.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartStage_ChildSpanAndLatency(t *testing.T) {
	m, reader, exp := testSetup(t)

	ctx, root := StartScore(context.Background())
	done := StartStage(ctx, m, StageProsody)
	done()
	EndSpan(root, nil)

	score := spanNamed(t, exp, ScoreSpan)
	stage := spanNamed(t, exp, "scorer.prosody")
	if stage.Parent.SpanID() != score.SpanContext.SpanID() {
		t.Error("stage span is not a child of the score span")
	}
	if !hasAttr(stage.Attributes, attribute.String("stage", StageProsody)) {
		t.Errorf("stage span attributes = %v, want stage=prosody", stage.Attributes)
	}
	if score.Status.Code != codes.Unset {
		t.Errorf("score span status = %v, want unset", score.Status.Code)
	}

	met := findMetric(collect(t, reader), "speakwell.stage.duration")
	if met == nil {
		t.Fatal("speakwell.stage.duration not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("stage duration data points = %+v, want one observation", hist.DataPoints)
	}
	if v, _ := hist.DataPoints[0].Attributes.Value("stage"); v.AsString() != StageProsody {
		t.Errorf("stage attribute = %q, want %q", v.AsString(), StageProsody)
	}
}

func TestEndSpan_RecordsError(t *testing.T) {
	_, _, exp := testSetup(t)

	_, span := StartScore(context.Background())
	EndSpan(span, errors.New("decode failed"))

	got := spanNamed(t, exp, ScoreSpan)
	if got.Status.Code != codes.Error || got.Status.Description != "decode failed" {
		t.Errorf("status = %+v, want error %q", got.Status, "decode failed")
	}
	if len(got.Events) == 0 || got.Events[0].Name != "exception" {
		t.Errorf("events = %+v, want a recorded exception", got.Events)
	}
}

func TestCorrelationID(t *testing.T) {
	testSetup(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span = %q, want empty", got)
	}

	ctx, span := StartScore(context.Background())
	defer span.End()
	got := CorrelationID(ctx)
	if want := span.SpanContext().TraceID().String(); got != want {
		t.Errorf("CorrelationID = %q, want trace ID %q", got, want)
	}
	if len(got) != 32 || strings.Trim(got, "0123456789abcdef") != "" {
		t.Errorf("CorrelationID %q is not 32 lowercase hex digits", got)
	}
}

func TestLogger_TraceFields(t *testing.T) {
	testSetup(t)
	buf := captureLogs(t)

	Logger(context.Background()).Info("untraced")
	ctx, span := StartScore(context.Background())
	Logger(ctx).Info("traced")
	span.End()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2:\n%s", len(lines), buf)
	}
	if strings.Contains(lines[0], "trace_id=") {
		t.Errorf("untraced line has trace fields: %s", lines[0])
	}
	wantTrace := "trace_id=" + span.SpanContext().TraceID().String()
	wantSpan := "span_id=" + span.SpanContext().SpanID().String()
	if !strings.Contains(lines[1], wantTrace) || !strings.Contains(lines[1], wantSpan) {
		t.Errorf("traced line = %s, want %s and %s", lines[1], wantTrace, wantSpan)
	}
}

func hasAttr(attrs []attribute.KeyValue, want attribute.KeyValue) bool {
	for _, a := range attrs {
		if a == want {
			return true
		}
	}
	return false
}
