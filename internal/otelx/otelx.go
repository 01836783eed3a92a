// Package otelx installs the process-wide OpenTelemetry tracer provider and
// propagators. Spans are exported over OTLP/gRPC to a collector, normally a
// local agent.
package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

// ServiceNamespace groups the gateway's services in tracing backends.
const ServiceNamespace = "jsphere"

// dialTimeout bounds exporter setup, which otherwise blocks until the
// collector answers.
const dialTimeout = 3 * time.Second

type Options struct {
	Enabled  bool
	Endpoint string
	Insecure bool
	// Sample is the fraction of new traces kept. Requests arriving with a
	// sampled parent are always kept.
	Sample    float64
	Service   string
	Component string
	Version   string
}

// Init installs a tracer provider and returns its shutdown. When tracing
// is disabled spans are still created so trace ids propagate, but nothing
// is exported.
func Init(ctx context.Context, o Options) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(Propagator())
	if !o.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample())))
		return func(context.Context) error { return nil }, nil
	}

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	eo := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(o.Endpoint)}
	if o.Insecure {
		eo = append(eo, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(dctx, eo...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "otlp exporter for %s", o.Endpoint)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(Sampler(o.Sample)),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(Resource(ctx, o)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Propagator reads and writes W3C trace context and baggage.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// Sampler keeps fraction of root traces, clamped to [0, 1], and follows
// the parent's decision otherwise.
func Sampler(fraction float64) sdktrace.Sampler {
	fraction = min(max(fraction, 0), 1)
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(fraction))
}

// Resource describes the process. Detector failures are dropped, a partial
// resource is still useful.
func Resource(ctx context.Context, o Options) *resource.Resource {
	name := o.Service
	if o.Component != "" {
		name += "." + o.Component
	}
	res, _ := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNamespaceKey.String(ServiceNamespace),
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(o.Version),
		),
	)
	if res == nil {
		res = resource.Empty()
	}
	return res
}
