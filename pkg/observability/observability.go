// Package observability wires OpenTelemetry tracing and RED metrics for the
// ledger operations.
//
// Metric attributes are kept to a bounded set (operation, backend, event
// kind). Per-case identifiers go on spans only; see AnnotateCase.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "caseledger"

// Config configures OTLP export.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // gRPC, e.g. "localhost:4317"
	SampleRate     float64 // 0.0 to 1.0
	BatchTimeout   time.Duration
	ExportInterval time.Duration
	Enabled        bool
	Insecure       bool // plaintext gRPC, dev only
}

// DefaultConfig returns the defaults for a local collector.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "caseledger",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		ExportInterval: 15 * time.Second,
		Enabled:        true,
	}
}

// Option overrides part of a Provider.
type Option func(*Provider)

// WithMeterProvider makes the Provider record into mp instead of the OTLP
// exporter or the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(p *Provider) { p.meterProvider = mp }
}

// WithTracerProvider makes the Provider start spans from tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Provider) { p.tracerProvider = tp }
}

// Provider traces ledger operations and records their RED metrics.
type Provider struct {
	config         *Config
	logger         *slog.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	shutdowns      []func(context.Context) error

	tracer       trace.Tracer
	operations   metric.Int64Counter
	failures     metric.Int64Counter
	duration     metric.Float64Histogram
	inFlight     metric.Int64UpDownCounter
	skippedLines metric.Int64Counter
}

// New creates a provider. A nil config means DefaultConfig. When export is
// enabled the OTLP providers are installed as the otel globals; otherwise the
// current globals are used, which are no-ops unless something else set them.
func New(ctx context.Context, config *Config, opts ...Option) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	for _, opt := range opts {
		opt(p)
	}

	if config.Enabled && (p.meterProvider == nil || p.tracerProvider == nil) {
		if err := p.startExport(ctx); err != nil {
			return nil, err
		}
		p.logger.InfoContext(ctx, "observability initialized",
			"service", config.ServiceName,
			"environment", config.Environment,
			"endpoint", config.OTLPEndpoint,
			"sample_rate", config.SampleRate,
			"insecure", config.Insecure,
		)
	}
	if p.meterProvider == nil {
		p.meterProvider = otel.GetMeterProvider()
	}
	if p.tracerProvider == nil {
		p.tracerProvider = otel.GetTracerProvider()
	}

	if err := p.init(); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}
	return p, nil
}

// Noop returns a Provider that records nothing.
func Noop() *Provider {
	p := &Provider{
		config:         &Config{},
		logger:         slog.Default().With("component", "observability"),
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
	// No-op instruments cannot fail to build.
	_ = p.init()
	return p
}

func (p *Provider) startExport(ctx context.Context) error {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(p.config.ServiceName),
			semconv.ServiceVersion(p.config.ServiceVersion),
			semconv.DeploymentEnvironment(p.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	if p.tracerProvider == nil {
		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
		if p.config.Insecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, traceOpts...)
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(p.config.SampleRate))),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		p.tracerProvider = tp
		p.shutdowns = append(p.shutdowns, tp.Shutdown)
	}

	if p.meterProvider == nil {
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
		if p.config.Insecure {
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
		if err != nil {
			return fmt.Errorf("failed to create metric exporter: %w", err)
		}
		interval := p.config.ExportInterval
		if interval <= 0 {
			interval = 15 * time.Second
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		)
		otel.SetMeterProvider(mp)
		p.meterProvider = mp
		p.shutdowns = append(p.shutdowns, mp.Shutdown)
	}
	return nil
}

func (p *Provider) init() error {
	version := p.config.ServiceVersion
	p.tracer = p.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(version))
	meter := p.meterProvider.Meter(instrumentationName, metric.WithInstrumentationVersion(version))

	var err error
	if p.operations, err = meter.Int64Counter("caseledger.operations.total",
		metric.WithDescription("Ledger operations started"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return err
	}
	if p.failures, err = meter.Int64Counter("caseledger.errors.total",
		metric.WithDescription("Ledger operations that returned an error"),
		metric.WithUnit("{error}"),
	); err != nil {
		return err
	}
	// Reads are full scans, so buckets reach into seconds.
	if p.duration, err = meter.Float64Histogram("caseledger.operation.duration",
		metric.WithDescription("Ledger operation duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	); err != nil {
		return err
	}
	if p.inFlight, err = meter.Int64UpDownCounter("caseledger.operations.active",
		metric.WithDescription("Ledger operations in flight"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return err
	}
	p.skippedLines, err = meter.Int64Counter("caseledger.scan.skipped",
		metric.WithDescription("Undecodable ledger entries met while scanning"),
		metric.WithUnit("{entry}"),
	)
	return err
}

// Shutdown flushes and stops the exporters started by New.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, shutdown := range p.shutdowns {
		if err := shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown telemetry provider", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TrackOperation starts a span named name and counts the operation. attrs go
// on the span and on every metric, together with the operation name, so they
// must come from a small fixed set of values. Call the returned function with
// the operation's error when it completes.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	labels := append(attrs[:len(attrs):len(attrs)], AttrOperation.String(name))
	set := metric.WithAttributeSet(attribute.NewSet(labels...))
	p.inFlight.Add(ctx, 1, set)
	p.operations.Add(ctx, 1, set)

	return ctx, func(err error) {
		p.inFlight.Add(ctx, -1, set)
		p.duration.Record(ctx, time.Since(start).Seconds(), set)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.failures.Add(ctx, 1, metric.WithAttributes(
				append(labels[:len(labels):len(labels)], attribute.String("error.type", fmt.Sprintf("%T", err)))...))
		}
		span.End()
	}
}

// RecordScan notes the size of one ledger scan on the current span and adds
// its skipped entries to the skipped counter.
func (p *Provider) RecordScan(ctx context.Context, records, skipped int, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent("ledger.scan", trace.WithAttributes(
		AttrRecords.Int(records),
		AttrSkipped.Int(skipped),
	))
	if skipped > 0 {
		p.skippedLines.Add(ctx, int64(skipped), metric.WithAttributes(attrs...))
	}
}
