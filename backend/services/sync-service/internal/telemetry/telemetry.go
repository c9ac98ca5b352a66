// Package telemetry wires OpenTelemetry trace and metric providers to an OTLP
// gRPC collector and defines the instruments used by the sync engine.
//
// Without an endpoint the global providers stay no-op.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// ScopeName is the instrumentation scope of every span and metric.
const ScopeName = "wattmint/sync-service"

// Config mirrors the telemetry block of the service config.
type Config struct {
	OTLPEndpoint string
	Insecure     bool
	ServiceName  string
	Headers      map[string]string
}

// ShutdownFunc flushes and closes providers. Call it with a fresh context.
type ShutdownFunc func(context.Context) error

// Setup installs global providers. The returned function is never nil.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if cfg.OTLPEndpoint == "" {
		return noopShutdown, nil
	}
	svcName := cfg.ServiceName
	if svcName == "" {
		svcName = "sync-service"
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(svcName)))
	if err != nil {
		return noopShutdown, fmt.Errorf("building OTel resource: %w", err)
	}

	var creds credentials.TransportCredentials
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	} else {
		creds = credentials.NewTLS(nil)
	}
	conn, err := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return noopShutdown, fmt.Errorf("dialling OTLP collector at %q: %w", cfg.OTLPEndpoint, err)
	}

	traceExp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithGRPCConn(conn),
		otlptracegrpc.WithHeaders(cfg.Headers),
	)
	if err != nil {
		_ = conn.Close()
		return noopShutdown, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithGRPCConn(conn),
		otlpmetricgrpc.WithHeaders(cfg.Headers),
	)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = conn.Close()
		return noopShutdown, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		var errs []error
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
		if err := mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric provider shutdown: %w", err))
		}
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("OTLP gRPC connection close: %w", err))
		}
		return errors.Join(errs...)
	}, nil
}

func noopShutdown(context.Context) error { return nil }

// Instruments groups the engine's tracer and counters.
type Instruments struct {
	Tracer         trace.Tracer
	Devices        metric.Int64Counter
	DeltasCredited metric.Float64Counter
	RateLimited    metric.Int64Counter
	Reauth         metric.Int64Counter
}

// NewInstruments creates instruments from the given providers.
func NewInstruments(tp trace.TracerProvider, mp metric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter(ScopeName)
	devices, err := meter.Int64Counter("wattmint.sync.devices",
		metric.WithDescription("Devices processed, by provider and status"))
	if err != nil {
		return nil, err
	}
	credited, err := meter.Float64Counter("wattmint.sync.deltas_credited",
		metric.WithDescription("Delta amount persisted and credited, by metric"))
	if err != nil {
		return nil, err
	}
	limited, err := meter.Int64Counter("wattmint.sync.rate_limited",
		metric.WithDescription("Vendor 429 answers, by provider"))
	if err != nil {
		return nil, err
	}
	reauth, err := meter.Int64Counter("wattmint.sync.reauth",
		metric.WithDescription("Providers that required reauthentication"))
	if err != nil {
		return nil, err
	}
	return &Instruments{
		Tracer:         tp.Tracer(ScopeName),
		Devices:        devices,
		DeltasCredited: credited,
		RateLimited:    limited,
		Reauth:         reauth,
	}, nil
}

// Global builds instruments from the providers installed by Setup.
func Global() (*Instruments, error) {
	return NewInstruments(otel.GetTracerProvider(), otel.GetMeterProvider())
}
