// Package observability sets up OpenTelemetry tracing for the data store.
// Until Init installs a provider, spans go to the global no-op provider.
package observability

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/datastore/pkg/errors"
)

// InstrumentationName names the tracer of every span started by the store.
const InstrumentationName = "github.com/ajitpratap0/datastore"

// TracingConfig contains tracing configuration
type TracingConfig struct {
	// Enabled installs a tracer provider; otherwise spans are dropped
	Enabled bool
	// ServiceName is reported as the service.name resource attribute
	ServiceName string
	// Exporter is "stdout" or "stderr"
	Exporter string
	// SamplingRate is the fraction of root spans sampled, from 0 to 1
	SamplingRate float64
}

// Init installs a global tracer provider for cfg and returns its shutdown
// function, which flushes pending spans. When tracing is disabled the
// shutdown function does nothing.
func Init(cfg TracingConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	var w io.Writer
	switch cfg.Exporter {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported trace exporter %q", cfg.Exporter)
	}
	return InitWithWriter(cfg, w)
}

// InitWithWriter is Init with spans exported as JSON to w.
func InitWithWriter(cfg TracingConfig, w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create trace exporter")
	}

	name := cfg.ServiceName
	if name == "" {
		name = "datastore"
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(attribute.String("service.name", name)),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create trace resource")
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case cfg.SamplingRate >= 1:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// Tracer returns the store tracer of the current global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// StartSpan starts a span named operation with the given attributes.
func StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, operation, trace.WithAttributes(attrs...))
}

// EndSpan records the outcome of an operation and ends its span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
