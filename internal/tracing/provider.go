// Package tracing provides OpenTelemetry initialization, run and attachment
// spans, and trace context propagation into upload metadata.
package tracing

import (
	"context"
	"net/url"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/torosent/streamfire/internal/config"
)

const (
	defaultServiceName = "streamfire"
	instrumentation    = "github.com/torosent/streamfire"
)

// Run describes the run whose spans a provider exports. Its fields are
// attached to the trace resource, so every exported span carries them.
type Run struct {
	ID          string
	Attachments int
	// Seed is omitted from the resource when nil.
	Seed   *int64
	Bucket string
}

func (r Run) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("streamfire.run_id", r.ID),
		attribute.Int("streamfire.attachments", r.Attachments),
	}
	if r.Seed != nil {
		attrs = append(attrs, attribute.Int64("streamfire.seed", *r.Seed))
	}
	// Bucket URLs can hold credentials in the query; keep the scheme only.
	if u, err := url.Parse(r.Bucket); err == nil && u.Scheme != "" {
		attrs = append(attrs, attribute.String("streamfire.bucket.scheme", u.Scheme))
	}
	return attrs
}

// Option adjusts how Init builds the provider.
type Option func(*options)

type options struct {
	exporter sdktrace.SpanExporter
}

// WithExporter exports spans synchronously to exp instead of an OTLP
// endpoint. Tracing is enabled even when cfg names no endpoint.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) {
		o.exporter = exp
	}
}

// Provider owns the tracer provider of one run.
type Provider struct {
	tp        *sdktrace.TracerProvider
	tracer    trace.Tracer
	propagate bool
}

// Init builds the tracer provider for run and installs it, together with the
// W3C propagators, as the global provider. Without an endpoint or exporter
// the returned provider hands out no-op tracers.
func Init(ctx context.Context, cfg config.TracingConfig, run Run, opts ...Option) (*Provider, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	p := &Provider{}
	endpoint := firstNonEmpty(cfg.Endpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if o.exporter == nil && endpoint == "" {
		return p, nil
	}

	sampler, err := newSampler(cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		append([]attribute.KeyValue{semconv.ServiceName(serviceName(cfg))}, run.attributes()...)...,
	))
	if err != nil {
		return nil, errors.Wrap(err, "tracing resource")
	}

	export := sdktrace.WithSyncer(o.exporter)
	if o.exporter == nil {
		exp, err := newExporter(ctx, cfg.Protocol, endpoint, cfg.Insecure)
		if err != nil {
			return nil, errors.Wrap(err, "tracing exporter")
		}
		export = sdktrace.WithBatcher(exp)
	}

	p.tp = sdktrace.NewTracerProvider(
		export,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	p.tracer = p.tp.Tracer(instrumentation)
	p.propagate = cfg.Propagate == nil || *cfg.Propagate

	otel.SetTracerProvider(p.tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return p, nil
}

// Tracer returns the run's tracer, or a no-op tracer when tracing is off.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentation)
	}
	return p.tracer
}

// ShouldPropagate reports whether uploads get trace context labels.
func (p *Provider) ShouldPropagate() bool {
	return p != nil && p.tracer != nil && p.propagate
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

func serviceName(cfg config.TracingConfig) string {
	return firstNonEmpty(cfg.ServiceName, os.Getenv("OTEL_SERVICE_NAME"), defaultServiceName)
}

// newSampler maps a ratio to a sampler. Zero samples nothing and one samples
// everything.
func newSampler(rate float64) (sdktrace.Sampler, error) {
	switch {
	case rate < 0 || rate > 1:
		return nil, errors.Errorf("tracing sample_rate must be between 0.0 and 1.0, got %g", rate)
	case rate == 0:
		return sdktrace.NeverSample(), nil
	case rate == 1:
		return sdktrace.AlwaysSample(), nil
	default:
		return sdktrace.TraceIDRatioBased(rate), nil
	}
}

func newExporter(ctx context.Context, protocol, endpoint string, plaintext bool) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(protocol) {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if plaintext {
			opts = append(opts,
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		return otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if plaintext {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, errors.Errorf("unsupported OTLP protocol %q: use \"grpc\" or \"http\"", protocol)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
