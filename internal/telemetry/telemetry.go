// Package telemetry wires the daemon's optional OTLP export: spans around
// evaluation passes, counters for alarm activity, and structured log records,
// all delivered over one shared gRPC connection to a collector.
//
// [Setup] installs the global providers and returns a flush-and-close
// function for shutdown. When no telemetry block is configured the daemon
// never calls Setup, so the global providers stay no-ops and cost nothing.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// defaultServiceName is the service.name resource attribute when the config
// leaves it blank.
const defaultServiceName = "geoalarm"

// Config carries the collector settings, filled from the config file's
// telemetry block.
type Config struct {
	// OTLPEndpoint is the collector's gRPC host:port,
	// e.g. "localhost:4317".
	OTLPEndpoint string

	// Insecure skips TLS, for local collectors without a certificate.
	Insecure bool

	// ServiceName overrides the service.name resource attribute.
	ServiceName string

	// Headers is attached as gRPC metadata to every export, typically an
	// Authorization token for a hosted collector.
	Headers map[string]string
}

// ShutdownFunc flushes pending telemetry and closes the providers plus the
// shared connection. Call it with a fresh context; the run context is
// usually already cancelled when shutdown happens.
type ShutdownFunc func(context.Context) error

// Setup installs global trace, metric, and log providers exporting to
// cfg.OTLPEndpoint. The returned ShutdownFunc is non-nil even on error, so
// callers can defer it unconditionally.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	res, err := buildResource(cfg.ServiceName)
	if err != nil {
		return noopShutdown, err
	}

	conn, err := dialCollector(cfg)
	if err != nil {
		return noopShutdown, err
	}

	// Providers shut down in reverse construction order; the shared
	// connection closes last.
	var closers []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing OTLP connection: %w", err))
		}
		return errors.Join(errs...)
	}

	tp, err := newTraceProvider(ctx, conn, cfg.Headers, res)
	if err != nil {
		_ = shutdown(ctx)
		return noopShutdown, err
	}
	closers = append(closers, labelled("trace provider", tp.Shutdown))
	otel.SetTracerProvider(tp)

	mp, err := newMeterProvider(ctx, conn, cfg.Headers, res)
	if err != nil {
		_ = shutdown(ctx)
		return noopShutdown, err
	}
	closers = append(closers, labelled("meter provider", mp.Shutdown))
	otel.SetMeterProvider(mp)

	lp, err := newLoggerProvider(ctx, conn, cfg.Headers, res)
	if err != nil {
		_ = shutdown(ctx)
		return noopShutdown, err
	}
	closers = append(closers, labelled("logger provider", lp.Shutdown))
	global.SetLoggerProvider(lp)

	return shutdown, nil
}

// buildResource describes this service instance. NewSchemaless sidesteps the
// schema URL conflict between the SDK's default resource and this package's
// semconv version.
func buildResource(serviceName string) (*resource.Resource, error) {
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("building OTel resource: %w", err)
	}
	return res, nil
}

// dialCollector opens the gRPC connection all three exporters share.
func dialCollector(cfg Config) (*grpc.ClientConn, error) {
	creds := credentials.NewTLS(nil) // system root CAs
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dialling OTLP collector at %q: %w", cfg.OTLPEndpoint, err)
	}
	return conn, nil
}

func newTraceProvider(ctx context.Context, conn *grpc.ClientConn, headers map[string]string, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithGRPCConn(conn),
		otlptracegrpc.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), nil
}

func newMeterProvider(ctx context.Context, conn *grpc.ClientConn, headers map[string]string, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithGRPCConn(conn),
		otlpmetricgrpc.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	), nil
}

func newLoggerProvider(ctx context.Context, conn *grpc.ClientConn, headers map[string]string, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	exp, err := otlploggrpc.New(ctx,
		otlploggrpc.WithGRPCConn(conn),
		otlploggrpc.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP log exporter: %w", err)
	}
	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	), nil
}

// labelled tags a provider's shutdown error with its name.
func labelled(name string, shutdown func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := shutdown(ctx); err != nil {
			return fmt.Errorf("%s shutdown: %w", name, err)
		}
		return nil
	}
}

// noopShutdown stands in when Setup fails partway.
func noopShutdown(context.Context) error { return nil }
