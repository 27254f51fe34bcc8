package tracing_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/streamfire/internal/config"
	"github.com/torosent/streamfire/internal/tracing"
)

func setupTestTracer(t *testing.T) (*tracetest.InMemoryExporter, trace.Tracer) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter, tp.Tracer("test")
}

var testRun = tracing.Run{ID: "01RUN", Attachments: 4, Bucket: "mem://"}

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	p, err := tracing.Init(context.Background(), config.TracingConfig{SampleRate: 1}, testRun)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if p.ShouldPropagate() {
		t.Error("ShouldPropagate() = true without an endpoint")
	}
	_, span := p.Tracer().Start(context.Background(), "noop")
	span.End()
	if span.SpanContext().TraceID().IsValid() {
		t.Error("no-op tracer produced a valid trace id")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestInitEndpoints(t *testing.T) {
	off := false
	tests := []struct {
		name          string
		cfg           config.TracingConfig
		wantErr       bool
		wantPropagate bool
	}{
		{name: "grpc", cfg: config.TracingConfig{Endpoint: "localhost:4317", Protocol: "grpc", SampleRate: 1, Insecure: true}, wantPropagate: true},
		{name: "default protocol", cfg: config.TracingConfig{Endpoint: "localhost:4317", SampleRate: 0.25}, wantPropagate: true},
		{name: "http", cfg: config.TracingConfig{Endpoint: "localhost:4318", Protocol: "HTTP", SampleRate: 1, Insecure: true}, wantPropagate: true},
		{name: "propagation off", cfg: config.TracingConfig{Endpoint: "localhost:4317", SampleRate: 1, Propagate: &off}},
		{name: "thrift", cfg: config.TracingConfig{Endpoint: "localhost:4317", Protocol: "thrift", SampleRate: 1}, wantErr: true},
		{name: "negative rate", cfg: config.TracingConfig{Endpoint: "localhost:4317", SampleRate: -0.5}, wantErr: true},
		{name: "rate above one", cfg: config.TracingConfig{Endpoint: "localhost:4317", SampleRate: 1.5}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tracing.Init(context.Background(), tt.cfg, testRun)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Init() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
			if got := p.ShouldPropagate(); got != tt.wantPropagate {
				t.Errorf("ShouldPropagate() = %v, want %v", got, tt.wantPropagate)
			}
		})
	}
}

func TestInitTagsSpansWithRun(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	seed := int64(31337)
	run := tracing.Run{
		ID:          "01HRUN",
		Attachments: 4,
		Seed:        &seed,
		Bucket:      "s3://uploads?region=eu-west-1&awssdk=v2",
	}
	p, err := tracing.Init(context.Background(), config.TracingConfig{ServiceName: "load-ci", SampleRate: 1}, run, tracing.WithExporter(exporter))
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	if !p.ShouldPropagate() {
		t.Error("ShouldPropagate() = false with an exporter and no override")
	}

	ctx, runSpan := tracing.StartRunSpan(context.Background(), p.Tracer(), run.ID, run.Attachments, seed)
	_, att := tracing.StartAttachmentSpan(ctx, p.Tracer(), 2, 4096, time.Second)
	tracing.EndSpan(att, nil)
	tracing.EndSpan(runSpan, nil)

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	want := map[string]attribute.Value{
		"service.name":             attribute.StringValue("load-ci"),
		"streamfire.run_id":        attribute.StringValue("01HRUN"),
		"streamfire.attachments":   attribute.IntValue(4),
		"streamfire.seed":          attribute.Int64Value(31337),
		"streamfire.bucket.scheme": attribute.StringValue("s3"),
	}
	for _, span := range spans {
		set := span.Resource.Set()
		for key, value := range want {
			got, ok := set.Value(attribute.Key(key))
			if !ok || got != value {
				t.Errorf("%s: resource %s = %v (present %v), want %v", span.Name, key, got.Emit(), ok, value.Emit())
			}
		}
		for _, kv := range span.Resource.Attributes() {
			if strings.Contains(kv.Value.Emit(), "eu-west-1") {
				t.Errorf("%s: resource leaks bucket query via %s", span.Name, kv.Key)
			}
		}
	}
}

func TestInitSampleRateWithExporter(t *testing.T) {
	tests := []struct {
		rate      float64
		wantSpans int
	}{
		{rate: 0, wantSpans: 0},
		{rate: 1, wantSpans: 1},
	}
	for _, tt := range tests {
		exporter := tracetest.NewInMemoryExporter()
		p, err := tracing.Init(context.Background(), config.TracingConfig{SampleRate: tt.rate}, tracing.Run{ID: "01RUN"}, tracing.WithExporter(exporter))
		if err != nil {
			t.Fatalf("Init(rate=%g) error = %v", tt.rate, err)
		}
		_, span := p.Tracer().Start(context.Background(), "sampled")
		span.End()
		if got := len(exporter.GetSpans()); got != tt.wantSpans {
			t.Errorf("rate=%g: exported %d spans, want %d", tt.rate, got, tt.wantSpans)
		}
		if set := exporter.GetSpans(); len(set) > 0 {
			if _, ok := set[0].Resource.Set().Value("streamfire.seed"); ok {
				t.Errorf("rate=%g: seed attribute present for a nil seed", tt.rate)
			}
		}
		_ = p.Shutdown(context.Background())
	}
}

func TestNilProviderSafety(t *testing.T) {
	var p *tracing.Provider
	if p.ShouldPropagate() {
		t.Error("nil provider ShouldPropagate() = true, want false")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("nil provider Shutdown() error = %v", err)
	}
	_, span := p.Tracer().Start(context.Background(), "nil")
	span.End()
}

func attr(t *testing.T, attrs []attribute.KeyValue, key string) attribute.Value {
	t.Helper()
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value
		}
	}
	t.Fatalf("attribute %s not found", key)
	return attribute.Value{}
}

func TestRunAndAttachmentSpans(t *testing.T) {
	exporter, tracer := setupTestTracer(t)

	ctx, run := tracing.StartRunSpan(context.Background(), tracer, "01RUN", 2, 31337)
	_, att := tracing.StartAttachmentSpan(ctx, tracer, 1, 1000, 10*time.Second)
	tracing.EndSpan(att, errors.New("failure requested at byte 400"))
	tracing.EndSpan(run, nil)

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	attSpan, runSpan := spans[0], spans[1]
	if runSpan.Name != "streamfire run" || attSpan.Name != "streamfire attachment" {
		t.Fatalf("unexpected span names %q %q", runSpan.Name, attSpan.Name)
	}
	if attSpan.Parent.SpanID() != runSpan.SpanContext.SpanID() {
		t.Error("attachment span should be a child of the run span")
	}
	if got := attr(t, runSpan.Attributes, "streamfire.seed").AsInt64(); got != 31337 {
		t.Errorf("seed = %d", got)
	}
	if got := attr(t, attSpan.Attributes, "streamfire.attachment.index").AsInt64(); got != 1 {
		t.Errorf("index = %d", got)
	}
	if got := attr(t, attSpan.Attributes, "streamfire.attachment.duration_ms").AsInt64(); got != 10000 {
		t.Errorf("duration_ms = %d", got)
	}
	if attSpan.Status.Code != codes.Error {
		t.Errorf("attachment status = %v, want Error", attSpan.Status.Code)
	}
	if runSpan.Status.Code != codes.Ok {
		t.Errorf("run status = %v, want Ok", runSpan.Status.Code)
	}
}

func TestEndSpanRecordsError(t *testing.T) {
	exporter, tracer := setupTestTracer(t)

	_, span := tracer.Start(context.Background(), "test-error")
	tracing.EndSpan(span, context.DeadlineExceeded)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status code = %d, want %d (Error)", spans[0].Status.Code, codes.Error)
	}
}

func TestInjectLabels(t *testing.T) {
	_, tracer := setupTestTracer(t)

	ctx, span := tracer.Start(context.Background(), "test-inject")
	defer span.End()

	labels := tracing.InjectLabels(ctx, nil)
	got := labels["traceparent"]
	// traceparent format: version-traceid-spanid-flags
	if len(got) < 55 {
		t.Errorf("traceparent label too short: %q", got)
	}

	existing := map[string]string{"owner": "ci"}
	labels = tracing.InjectLabels(ctx, existing)
	if labels["owner"] != "ci" || labels["traceparent"] == "" {
		t.Errorf("labels = %v", labels)
	}
}

func TestInjectLabelsNoSpan(t *testing.T) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
	))
	if labels := tracing.InjectLabels(context.Background(), nil); labels != nil {
		t.Errorf("labels should stay nil without a span, got %v", labels)
	}
}
