// Package telemetry bootstraps OpenTelemetry tracing for one SFU node and
// offers a thin per-span helper for annotating room/session lifecycle
// events; no other package calls it. Grounded on the teacher's
// pkg/telemetry/{config,setup,telemetry}.go, adapted to export over OTLP
// only — this module's go.mod does not carry the Jaeger exporter the
// teacher also supports (see DESIGN.md).
package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// SetupTelemetry configures the process-global tracer provider and context
// propagator for config, returning the provider so the caller can flush it
// on shutdown.
func SetupTelemetry(config Config) (*tracesdk.TracerProvider, error) {
	res, err := NewResource(config.Package, config.ID)
	if err != nil {
		return nil, err
	}

	exp, err := NewOTLPExporter(config.OTLP)
	if err != nil {
		return nil, err
	}

	tp := NewTracerProvider(exp, res)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp, nil
}

// NewTracerProvider wires exp and res into an always-sampling, batching
// trace provider.
func NewTracerProvider(exp tracesdk.SpanExporter, res *resource.Resource) *tracesdk.TracerProvider {
	return tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.AlwaysSample()),
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
	)
}

// NewResource describes this process as pkg/identifier for every span it
// emits.
func NewResource(pkg, identifier string) (*resource.Resource, error) {
	if pkg == "" || identifier == "" {
		return nil, fmt.Errorf("empty resource name or identifier")
	}

	return resource.New(
		context.Background(),
		resource.WithContainer(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(pkg),
			attribute.String("node_id", identifier),
		),
	)
}

// NewOTLPExporter constructs an OTLP/HTTP span exporter. Endpoint validation
// happens here rather than deferred to the client, since otlptracehttp logs
// (instead of returning) malformed-endpoint errors once spans start flowing.
func NewOTLPExporter(config OTLP) (*otlptrace.Exporter, error) {
	switch {
	case config.Host == "":
		return nil, fmt.Errorf("OTLP host is not set")
	case strings.HasPrefix(config.Host, "http://"), strings.HasPrefix(config.Host, "https://"):
		return nil, fmt.Errorf("OTLP host must not contain the protocol")
	case strings.HasSuffix(config.Host, "/"):
		return nil, fmt.Errorf("OTLP host must not contain the path or trailing slashes")
	}

	options := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.Host)}
	if !config.Secure {
		options = append(options, otlptracehttp.WithInsecure())
	}

	return otlptrace.New(context.Background(), otlptracehttp.NewClient(options...))
}

const tracerName = "flowmesh-sfu"

var tracer = otel.Tracer(tracerName)

// Span wraps one active trace span plus the context it was started from, so
// callers can chain child spans across the room/session call graph without
// threading a context.Context argument through every method (§9 "tagged
// variants" mirrors this — keep the cross-cutting concern in one small
// wrapper instead of a context-everywhere style).
type Span struct {
	span trace.Span
	ctx  context.Context //nolint:containedctx
}

// StartSpan begins a new root span named name.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) *Span {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return &Span{span: span, ctx: ctx}
}

// Child begins a span nested under s.
func (s *Span) Child(name string, attrs ...attribute.KeyValue) *Span {
	return StartSpan(s.ctx, name, attrs...)
}

// AddEvent records a point-in-time annotation on the span.
func (s *Span) AddEvent(text string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(text, trace.WithAttributes(attrs...))
}

// Fail marks the span as failed and records err.
func (s *Span) Fail(err error) {
	s.span.SetStatus(codes.Error, err.Error())
	s.span.RecordError(err)
}

// End closes the span.
func (s *Span) End() {
	s.span.End()
}
