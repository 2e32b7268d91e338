// Package tracing wires OpenTelemetry for operation spans.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
)

const defaultServiceName = "sai-fx"

// Provider owns the tracer provider. When tracing is disabled it hands out
// a no-op tracer, so callers never branch on configuration.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	enabled  bool
}

func NewNoop() *Provider {
	return &Provider{tracer: noop.NewTracerProvider().Tracer("noop")}
}

func NewProvider(ctx context.Context, cfg *types.TracingConfig, logger types.Logger, opts ...sdktrace.TracerProviderOption) (*Provider, error) {
	if cfg == nil || !cfg.Enabled {
		return NewNoop(), nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		endpoint := cfg.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
	case "none", "":
	default:
		return nil, types.Errorf(types.ErrNotSupported, "trace exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, types.WrapError(err, "failed to create trace exporter")
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	options := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
	}
	if exporter != nil {
		options = append(options, sdktrace.WithBatcher(exporter))
	}
	options = append(options, opts...)

	provider := sdktrace.NewTracerProvider(options...)

	logger.Info("Tracing enabled",
		zap.String("exporter", cfg.Exporter),
		zap.String("service", serviceName),
		zap.Float64("sample_rate", sampleRate))

	return &Provider{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
		enabled:  true,
	}, nil
}

func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

func (p *Provider) Enabled() bool {
	return p.enabled
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}
