// Package telemetry installs the OpenTelemetry trace pipeline used by the
// export client's request spans.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

const (
	ServiceName = "wikiexport"
	tracesPath  = "/v1/traces"
)

// Setup builds a batching tracer provider that ships spans to endpoint over
// OTLP/HTTP and installs it globally. An empty endpoint leaves the no-op
// provider in place and returns a no-op shutdown.
func Setup(ctx context.Context, endpoint string, logger *zap.Logger) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r, err := newResource(ServiceName)
	if err != nil {
		return nil, err
	}
	exporter, err := newExporter(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(r),
	)
	otel.SetTracerProvider(provider)
	logger.Info("tracer export initialized", zap.String("type", "http"), zap.String("endpoint", endpoint))

	return provider.Shutdown, nil
}

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
}

func newExporter(ctx context.Context, endpoint string) (trace.SpanExporter, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid otlp endpoint %q: %w", endpoint, err)
	}
	// A bare collector address gets the standard traces path.
	if strings.Trim(u.Path, "/") == "" {
		u.Path = tracesPath
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(u.String()))
}
