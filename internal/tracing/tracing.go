// Package tracing installs the global OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/zjrosen/crewchat/internal/config"
	"github.com/zjrosen/crewchat/internal/log"
)

// ShutdownFunc flushes pending spans and releases the exporter.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

type options struct {
	out io.Writer
}

// Option customizes Setup.
type Option func(*options)

// WithWriter sets where the stdout exporter writes. Defaults to os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// Setup builds an exporter for cfg and registers a tracer provider globally.
// With the none exporter nothing is registered and the otel no-op provider
// stays in place.
func Setup(ctx context.Context, cfg config.TracingConfig, opts ...Option) (ShutdownFunc, error) {
	o := options{out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Exporter {
	case "", config.ExporterNone:
		return noopShutdown, nil
	case config.ExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(o.out))
	case config.ExporterOTLP:
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unknown tracing exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s exporter: %w", cfg.Exporter, err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "crewchat"
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	log.Info(log.CatConfig, "Tracing enabled", "exporter", cfg.Exporter, "service", serviceName)
	return tp.Shutdown, nil
}
