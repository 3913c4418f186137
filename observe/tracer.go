package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Operation names used in CallMeta.
const (
	OperationComplete = "complete"
	OperationStream   = "stream"
)

// CallMeta describes one logical client call for telemetry purposes.
type CallMeta struct {
	Operation string // complete|stream (required)
	Model     string // requested model (optional)
	RequestID string // client-generated request id (optional)
	Streaming bool
}

// SpanName returns the deterministic span name for this call.
// Format: llm.call.<operation>
func (m CallMeta) SpanName() string {
	return "llm.call." + m.Operation
}

func (m CallMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("llm.operation", m.Operation),
		attribute.Bool("llm.streaming", m.Streaming),
	}
	if m.Model != "" {
		attrs = append(attrs, attribute.String("llm.model", m.Model))
	}
	return attrs
}

type callKey struct{}

// ContextWithCall returns a copy of ctx carrying meta.
func ContextWithCall(ctx context.Context, meta CallMeta) context.Context {
	return context.WithValue(ctx, callKey{}, meta)
}

// CallFromContext returns the call metadata stored in ctx, if any.
func CallFromContext(ctx context.Context) (CallMeta, bool) {
	if ctx == nil {
		return CallMeta{}, false
	}
	meta, ok := ctx.Value(callKey{}).(CallMeta)
	return meta, ok
}

// Tracer wraps OpenTelemetry tracing with call-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: StartSpan returns a context carrying the new span.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for a logical call.
	StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new client span with call metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span) {
	attrs := append(meta.attributes(), attribute.Bool("llm.error", false))
	if meta.RequestID != "" {
		attrs = append(attrs, attribute.String("llm.request_id", meta.RequestID))
	}

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("llm.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// NopTracer returns a tracer that records nothing.
func NopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
