// OpenTelemetry tracing for messages crossing the bus.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// MessagingSystem is reported as messaging.system on every bus span.
const MessagingSystem = "eventbus"

// Tracer wraps OpenTelemetry tracing with bus-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include message bodies in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return NoopTracer()
	}
	return globalTracer
}

// NewTracer creates a tracer from the global otel provider.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFromProvider creates a tracer from a specific provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(name),
		debug:  debug,
	}
}

// NoopTracer returns a tracer that records nothing.
func NoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// SetDebug enables or disables debug mode (bodies in spans).
func (t *Tracer) SetDebug(debug bool) {
	t.debug = debug
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Message Spans ---

// Operation names used as span name prefixes and messaging.operation.type.
const (
	OpSend    = "send"
	OpPublish = "publish"
	OpReply   = "reply"
	OpDeliver = "deliver"
)

// MessageSpanOptions contains attributes recorded when a message span ends.
type MessageSpanOptions struct {
	Kind      string // wire variant of the body
	Size      int    // encoded size in bytes
	HandlerID string
	Body      string // Only included if debug=true
}

func (t *Tracer) startMessageSpan(ctx context.Context, op, address string, kind trace.SpanKind) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, op+" "+address,
		trace.WithSpanKind(kind),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String(MessagingSystem),
			semconv.MessagingDestinationName(address),
			attribute.String("messaging.operation.type", op),
		),
	)
}

// StartSendSpan starts a span for a point-to-point send.
func (t *Tracer) StartSendSpan(ctx context.Context, address string) (context.Context, trace.Span) {
	return t.startMessageSpan(ctx, OpSend, address, trace.SpanKindProducer)
}

// StartPublishSpan starts a span for a fan-out publish.
func (t *Tracer) StartPublishSpan(ctx context.Context, address string) (context.Context, trace.Span) {
	return t.startMessageSpan(ctx, OpPublish, address, trace.SpanKindProducer)
}

// StartReplySpan starts a span for a reply to a received message.
func (t *Tracer) StartReplySpan(ctx context.Context, address string) (context.Context, trace.Span) {
	return t.startMessageSpan(ctx, OpReply, address, trace.SpanKindProducer)
}

// StartDeliverSpan starts a span around a handler invocation. ctx should
// carry the remote parent extracted from the message header.
func (t *Tracer) StartDeliverSpan(ctx context.Context, address string) (context.Context, trace.Span) {
	return t.startMessageSpan(ctx, OpDeliver, address, trace.SpanKindConsumer)
}

// EndSpan ends a message span with attributes.
func (t *Tracer) EndSpan(span trace.Span, opts MessageSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		semconv.MessagingMessageBodySize(opts.Size),
	}
	if opts.Kind != "" {
		attrs = append(attrs, attribute.String("eventbus.body.kind", opts.Kind))
	}
	if opts.HandlerID != "" {
		attrs = append(attrs, attribute.String("eventbus.handler.id", opts.HandlerID))
	}
	if t.debug && opts.Body != "" {
		attrs = append(attrs, attribute.String("eventbus.body", truncate(opts.Body, 4000)))
	}

	span.SetAttributes(attrs...)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// --- Context Propagation ---

// Inject writes the trace context of ctx into a message header, allocating
// the header when needed. It returns the header.
func Inject(ctx context.Context, header map[string]string) map[string]string {
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return header
	}
	if header == nil {
		header = make(map[string]string)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(header))
	return header
}

// Extract reads trace context from a message header into ctx.
func Extract(ctx context.Context, header map[string]string) context.Context {
	if len(header) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(header))
}

// --- Helpers ---

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
