// Package tracing sets up OpenTelemetry for the engine. Spans are created
// through the global tracer; with tracing disabled the global provider stays
// the no-op default and span calls cost nothing.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"

	"github.com/flowgrid-go/pkg/logger"
)

type Config struct {
	Enabled        bool
	ServiceName    string
	JaegerEndpoint string
	SampleRate     float64
}

// Provider owns the tracer provider lifecycle. A disabled provider is valid
// and shuts down as a no-op.
type Provider struct {
	provider *sdktrace.TracerProvider
	logger   logger.Logger
}

func New(cfg Config, log logger.Logger) (*Provider, error) {
	if !cfg.Enabled {
		log.Info("tracing disabled")
		return &Provider{logger: log}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "flowgrid-engine"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerEndpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	log.Info("tracing initialized", "endpoint", cfg.JaegerEndpoint, "sampleRate", cfg.SampleRate)

	return &Provider{provider: provider, logger: log}, nil
}

// Shutdown flushes any buffered spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}
