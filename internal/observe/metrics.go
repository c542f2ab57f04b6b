// Package observe provides observability primitives for speakwell:
// OpenTelemetry metrics, distributed tracing, trace-aware structured logging,
// and HTTP middleware that ties them together.
//
// [InitProvider] turns the telemetry section of the config into meter and
// tracer providers; its [Provider.Metrics] are what the service records on.
// [DefaultMetrics] binds to the global meter provider for the CLI commands.
// Tests use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all speakwell metrics.
const meterName = "github.com/MrWong99/speakwell"

// Stage names used with [Metrics.RecordStage].
const (
	StageText      = "text"
	StageProsody   = "prosody"
	StageAggregate = "aggregate"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// ScoreDuration tracks end-to-end latency of scoring one utterance.
	ScoreDuration metric.Float64Histogram

	// StageDuration tracks per-stage latency. Use with attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// Utterances counts scored utterances. Use with attribute:
	//   attribute.String("status", ...)
	Utterances metric.Int64Counter

	// Words counts per-word records. Use with attribute:
	//   attribute.String("op", ...)
	Words metric.Int64Counter

	// UnreliableWords counts words whose prosody was rejected, once per
	// reason. Use with attribute:
	//   attribute.String("reason", ...)
	UnreliableWords metric.Int64Counter

	// PitchFallbacks counts utterances whose pitch contour came from a
	// fallback tracker. Use with attribute:
	//   attribute.String("tracker", ...)
	PitchFallbacks metric.Int64Counter

	// InputErrors counts rejected requests. Use with attribute:
	//   attribute.String("kind", ...)
	InputErrors metric.Int64Counter

	// ActiveRequests tracks scoring requests in flight.
	ActiveRequests metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for scoring
// latencies, which are dominated by pitch tracking.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ScoreDuration, err = m.Float64Histogram("speakwell.score.duration",
		metric.WithDescription("Latency of scoring one utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("speakwell.stage.duration",
		metric.WithDescription("Latency of a scoring stage by stage name."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("speakwell.utterances",
		metric.WithDescription("Total utterances scored by status."),
	); err != nil {
		return nil, err
	}
	if met.Words, err = m.Int64Counter("speakwell.words",
		metric.WithDescription("Total per-word records by alignment op."),
	); err != nil {
		return nil, err
	}
	if met.UnreliableWords, err = m.Int64Counter("speakwell.prosody.unreliable_words",
		metric.WithDescription("Words with unreliable prosody by reason."),
	); err != nil {
		return nil, err
	}
	if met.PitchFallbacks, err = m.Int64Counter("speakwell.pitch.fallbacks",
		metric.WithDescription("Utterances whose pitch came from a fallback tracker."),
	); err != nil {
		return nil, err
	}
	if met.InputErrors, err = m.Int64Counter("speakwell.input.errors",
		metric.WithDescription("Rejected scoring requests by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRequests, err = m.Int64UpDownCounter("speakwell.active_requests",
		metric.WithDescription("Number of scoring requests in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("speakwell.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records the latency of one scoring stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("stage", stage)))
}

// RecordUtterance records a scored utterance with its outcome ("ok" or
// "error") and, on success, its latency.
func (m *Metrics) RecordUtterance(ctx context.Context, status string, d time.Duration) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
	if status == "ok" {
		m.ScoreDuration.Record(ctx, d.Seconds())
	}
}

// RecordWords adds n per-word records of the given alignment op.
func (m *Metrics) RecordWords(ctx context.Context, op string, n int) {
	if n == 0 {
		return
	}
	m.Words.Add(ctx, int64(n), metric.WithAttributes(Attr("op", op)))
}

// RecordUnreliable records one unreliable-prosody reason.
func (m *Metrics) RecordUnreliable(ctx context.Context, reason string) {
	m.UnreliableWords.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordPitchFallback records that the named fallback tracker produced the
// contour.
func (m *Metrics) RecordPitchFallback(ctx context.Context, tracker string) {
	m.PitchFallbacks.Add(ctx, 1, metric.WithAttributes(Attr("tracker", tracker)))
}

// RecordInputError records a rejected request.
func (m *Metrics) RecordInputError(ctx context.Context, kind string) {
	m.InputErrors.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}
