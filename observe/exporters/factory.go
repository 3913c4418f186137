// Package exporters builds the OpenTelemetry span exporters and metric
// readers an llmcore Observer can be configured with.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	// ErrUnknownExporter indicates an unsupported exporter name.
	ErrUnknownExporter = errors.New("exporters: unknown exporter")

	// ErrEndpointNotConfigured indicates an OTLP exporter with no endpoint
	// in its options or the environment.
	ErrEndpointNotConfigured = errors.New("exporters: endpoint not configured")
)

// Option configures exporter construction.
type Option func(*options)

type options struct {
	endpoint string
	writer   io.Writer
}

// WithEndpoint sets the collector URL, e.g. "http://localhost:4317".
// It takes precedence over the OTEL_EXPORTER_* environment variables.
func WithEndpoint(url string) Option {
	return func(o *options) { o.endpoint = url }
}

// WithWriter sets the destination of the stdout exporters.
// Default: os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.writer = w
		}
	}
}

func collect(opts []Option) options {
	o := options{writer: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// endpointFrom returns the explicit endpoint or the first set variable of keys.
func (o options) endpointFrom(keys ...string) string {
	if o.endpoint != "" {
		return o.endpoint
	}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// NewTracingExporter creates the span exporter named by name: otlp, jaeger
// (OTLP to a Jaeger collector), stdout, or none. For none it returns a nil
// exporter and no error.
func NewTracingExporter(ctx context.Context, name string, opts ...Option) (sdktrace.SpanExporter, error) {
	o := collect(opts)

	switch name {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(o.writer))

	case "otlp", "jaeger":
		keys := []string{"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}
		if name == "jaeger" {
			keys = []string{"OTEL_EXPORTER_JAEGER_ENDPOINT"}
		}
		url := o.endpointFrom(keys...)
		if url == "" {
			return nil, fmt.Errorf("%w: %s tracing needs an endpoint or one of %v", ErrEndpointNotConfigured, name, keys)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpointURL(url))
		if err != nil {
			return nil, fmt.Errorf("exporters: %s traces: %w", name, err)
		}
		return exp, nil

	case "none", "":
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, name)
	}
}

// NewMetricsReader creates the metric reader named by name: otlp,
// prometheus, stdout, or none. For none it returns a nil reader and no error.
func NewMetricsReader(ctx context.Context, name string, opts ...Option) (sdkmetric.Reader, error) {
	o := collect(opts)

	switch name {
	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(o.writer))
		if err != nil {
			return nil, fmt.Errorf("exporters: stdout metrics: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	case "otlp":
		url := o.endpointFrom("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
		if url == "" {
			return nil, fmt.Errorf("%w: set an endpoint, OTEL_EXPORTER_OTLP_ENDPOINT or OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", ErrEndpointNotConfigured)
		}
		exp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpointURL(url))
		if err != nil {
			return nil, fmt.Errorf("exporters: otlp metrics: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	case "prometheus":
		exp, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("exporters: prometheus: %w", err)
		}
		return exp, nil

	case "none", "":
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, name)
	}
}
