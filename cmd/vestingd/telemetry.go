package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashgraph-online/vesting-sdk-go/pkg/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// setupTelemetry installs an OTLP/HTTP trace exporter as the global tracer
// provider. Without an endpoint the engine's spans go to the no-op provider.
func setupTelemetry(ctx context.Context, telemetry config.TelemetryConfig) (func(context.Context) error, error) {
	endpoint := strings.TrimSpace(telemetry.OTLPEndpoint)
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	options := []otlptracehttp.Option{}
	if strings.Contains(endpoint, "://") {
		options = append(options, otlptracehttp.WithEndpointURL(endpoint))
	} else {
		options = append(options, otlptracehttp.WithEndpoint(endpoint))
	}
	if telemetry.Insecure {
		options = append(options, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	serviceName := strings.TrimSpace(telemetry.ServiceName)
	if serviceName == "" {
		serviceName = "vestingd"
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}
