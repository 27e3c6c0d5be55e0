package mealplanner

import (
	"context"
	"errors"

	"github.com/joeshaw/envdecode"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	TracerNamePipeline = "mealplanner-pipeline"
	TracerNameKassal   = "mealplanner-kassal"
	TracerNameAPI      = "mealplanner-api"
)

// OtelConfig is a configuration struct for the OpenTelemetry providers.
type OtelConfig struct {
	Enabled        bool   `env:"OTEL_ENABLED,default=false"`
	Endpoint       string `env:"OTEL_EXPORTER_OTLP_ENDPOINT,default=localhost:4317"`
	ServiceVersion string `env:"OTEL_SERVICE_VERSION,default=0.1.0"`
	ServiceName    string `env:"OTEL_SERVICE_NAME,default=mealplanner"`
	DeployEnv      string `env:"OTEL_DEPLOY_ENV,default=development"`
}

// Telemetry holds the providers every component records to. Components take their tracers and meters
// from it when they are built, so it must outlive them.
type Telemetry struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	flush    func(ctx context.Context) error
	shutdown func(ctx context.Context) error
}

// NewTelemetry wraps SDK providers. ForceFlush and Shutdown act on both.
func NewTelemetry(tracerProvider *sdktrace.TracerProvider, meterProvider *sdkmetric.MeterProvider) *Telemetry {
	return &Telemetry{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		flush: func(ctx context.Context) error {
			return errors.Join(
				tracerProvider.ForceFlush(ctx),
				meterProvider.ForceFlush(ctx),
			)
		},
		shutdown: func(ctx context.Context) error {
			err := errors.Join(
				tracerProvider.Shutdown(ctx),
				meterProvider.Shutdown(ctx),
			)

			if err != nil && err.Error() == "gRPC exporter is shutdown" {
				return nil
			}

			return err
		},
	}
}

// NoopTelemetry records nothing.
func NoopTelemetry() *Telemetry {
	return &Telemetry{
		TracerProvider: tracenoop.NewTracerProvider(),
		MeterProvider:  metricnoop.NewMeterProvider(),
	}
}

func (t *Telemetry) Tracer(name string) trace.Tracer {
	return t.TracerProvider.Tracer(name)
}

func (t *Telemetry) Meter(name string) metric.Meter {
	return t.MeterProvider.Meter(name)
}

// ForceFlush exports everything recorded so far without stopping the providers.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t.flush == nil {
		return nil
	}
	return t.flush(ctx)
}

// Shutdown flushes and stops the providers. Nothing is recorded afterwards.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.shutdown == nil {
		return nil
	}
	return t.shutdown(ctx)
}

// InitOtel initializes the OpenTelemetry SDK, registers its providers as the globals and returns them.
// When OTEL_ENABLED is false nothing is registered and the returned providers are no-ops.
func InitOtel(ctx context.Context) (*Telemetry, error) {
	var cfg OtelConfig
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return NoopTelemetry(), nil
	}

	// Exporters read OTEL_EXPORTER_OTLP_* from the environment
	traceExporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient())
	if err != nil {
		return nil, err
	}

	metricExporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)

	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return NewTelemetry(tracerProvider, meterProvider), nil
}
