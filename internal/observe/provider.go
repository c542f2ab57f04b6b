package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"

	"github.com/MrWong99/speakwell/internal/config"
)

// defaultServiceName is reported when the telemetry config leaves it empty.
const defaultServiceName = "speakwell"

// Provider owns the SDK meter and tracer providers of a speakwell process.
type Provider struct {
	meters  *sdkmetric.MeterProvider
	tracers *sdktrace.TracerProvider
	metrics *Metrics
}

// ProviderOption customises [InitProvider].
type ProviderOption func(*providerOptions)

type providerOptions struct {
	version    string
	spans      sdktrace.SpanExporter
	registerer prometheus.Registerer
	readers    []sdkmetric.Reader
}

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(v string) ProviderOption {
	return func(o *providerOptions) { o.version = v }
}

// WithTraceExporter exports finished spans through exp. Without it spans are
// recorded for log correlation only.
func WithTraceExporter(exp sdktrace.SpanExporter) ProviderOption {
	return func(o *providerOptions) { o.spans = exp }
}

// WithRegisterer registers the Prometheus collector with reg instead of
// [prometheus.DefaultRegisterer].
func WithRegisterer(reg prometheus.Registerer) ProviderOption {
	return func(o *providerOptions) { o.registerer = reg }
}

// WithMetricReader adds a metric reader next to the Prometheus exporter.
func WithMetricReader(r sdkmetric.Reader) ProviderOption {
	return func(o *providerOptions) { o.readers = append(o.readers, r) }
}

// InitProvider builds the meter and tracer providers described by tel and
// registers them globally. The Prometheus exporter is installed only when
// tel.Prometheus is set; root spans are sampled at tel.TraceSampleRatio.
// Call [Provider.Shutdown] before exiting to flush exporters.
func InitProvider(ctx context.Context, tel config.TelemetryConfig, opts ...ProviderOption) (*Provider, error) {
	var o providerOptions
	for _, opt := range opts {
		opt(&o)
	}
	name := tel.ServiceName
	if name == "" {
		name = defaultServiceName
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(name),
			semconv.ServiceVersion(o.version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if tel.Prometheus {
		var promOpts []promexporter.Option
		if o.registerer != nil {
			promOpts = append(promOpts, promexporter.WithRegisterer(o.registerer))
		}
		exp, err := promexporter.New(promOpts...)
		if err != nil {
			return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(exp))
	}
	for _, r := range o.readers {
		meterOpts = append(meterOpts, sdkmetric.WithReader(r))
	}
	meters := sdkmetric.NewMeterProvider(meterOpts...)

	tracerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(tel.TraceSampleRatio))),
	}
	if o.spans != nil {
		tracerOpts = append(tracerOpts, sdktrace.WithBatcher(o.spans))
	}
	tracers := sdktrace.NewTracerProvider(tracerOpts...)

	m, err := NewMetrics(meters)
	if err != nil {
		return nil, errors.Join(err, meters.Shutdown(ctx), tracers.Shutdown(ctx))
	}

	otel.SetMeterProvider(meters)
	otel.SetTracerProvider(tracers)
	return &Provider{meters: meters, tracers: tracers, metrics: m}, nil
}

// Metrics returns the instruments bound to this provider's meter provider.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.meters.Shutdown(ctx), p.tracers.Shutdown(ctx))
}
