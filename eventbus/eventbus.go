package eventbus

import (
	"context"
	stderrors "errors"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/eventbus/bus"
	"github.com/vinayprograms/eventbus/codec"
	"github.com/vinayprograms/eventbus/errors"
	"github.com/vinayprograms/eventbus/logging"
	"github.com/vinayprograms/eventbus/telemetry"
)

// EventBus is the application-facing bus. It validates and encodes values,
// keeps the handler registry and hands encoded messages to a Transport.
type EventBus struct {
	transport bus.Transport
	registry  *registry
	logger    *logging.Logger
	tracer    *telemetry.Tracer
	events    telemetry.Exporter
	closed    atomic.Bool
}

// New creates an EventBus over transport. The bus takes ownership of the
// transport and closes it on Close.
func New(transport bus.Transport, opts ...Option) *EventBus {
	b := &EventBus{
		transport: transport,
		registry:  newRegistry(transport),
		logger:    logging.Nop(),
		tracer:    telemetry.GetTracer(),
		events:    telemetry.NewNoopExporter(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RegisterHandler subscribes h to address across the whole bus.
func (b *EventBus) RegisterHandler(address string, h Handler) (HandlerID, error) {
	return b.register(address, h, bus.ScopeCluster)
}

// RegisterLocalHandler subscribes h to address for senders in this process
// only.
func (b *EventBus) RegisterLocalHandler(address string, h Handler) (HandlerID, error) {
	return b.register(address, h, bus.ScopeLocal)
}

func (b *EventBus) register(address string, h Handler, scope bus.Scope) (HandlerID, error) {
	if err := validateAddress(address); err != nil {
		return "", err
	}
	if h == nil {
		return "", errors.InvalidHandler(errors.WithAddress(address))
	}
	if b.closed.Load() {
		return "", errors.Closed(errors.WithAddress(address))
	}

	id, err := b.registry.add(address, scope, func(id HandlerID) bus.Callback {
		return b.adapt(address, id, h)
	})
	if err != nil {
		return "", b.transportError(address, err)
	}

	b.logger.HandlerRegistered(address, string(id), scope.String())
	b.events.Record(telemetry.Event{
		Name:      telemetry.EventRegister,
		Address:   address,
		HandlerID: string(id),
		Scope:     scope.String(),
	})
	return id, nil
}

// UnregisterHandler removes the registration id made on address. Removing
// an unknown or already removed registration is a no-op.
func (b *EventBus) UnregisterHandler(address string, id HandlerID) error {
	if err := validateAddress(address); err != nil {
		return err
	}
	if id == "" {
		return errors.InvalidHandler(errors.WithAddress(address))
	}

	removed, err := b.registry.remove(address, id)
	if !removed {
		return nil
	}
	if err != nil {
		return b.transportError(address, err)
	}

	b.logger.HandlerUnregistered(address, string(id))
	b.events.Record(telemetry.Event{
		Name:      telemetry.EventUnregister,
		Address:   address,
		HandlerID: string(id),
	})
	return nil
}

// Send delivers message to one handler on address. When replyHandler is
// non-nil it receives the reply, or an Envelope with Err set if the message
// could not be delivered.
func (b *EventBus) Send(address string, message any, replyHandler Handler) error {
	return b.send(context.Background(), address, message, replyHandler, false)
}

// SendWithReply is Send with a mandatory reply handler.
func (b *EventBus) SendWithReply(address string, message any, replyHandler Handler) error {
	return b.send(context.Background(), address, message, replyHandler, true)
}

// SendContext is Send continuing the trace in ctx.
func (b *EventBus) SendContext(ctx context.Context, address string, message any, replyHandler Handler) error {
	return b.send(ctx, address, message, replyHandler, false)
}

func (b *EventBus) send(ctx context.Context, address string, message any, replyHandler Handler, requireReply bool) error {
	if err := validateAddress(address); err != nil {
		return err
	}
	if requireReply && replyHandler == nil {
		return errors.InvalidReplyHandler(errors.WithAddress(address))
	}
	msg, err := codec.EncodeBody(message)
	if err != nil {
		return err
	}
	if b.closed.Load() {
		return errors.Closed(errors.WithAddress(address))
	}

	ctx, span := b.tracer.StartSendSpan(ctx, address)
	out := &bus.Message{
		Data:   codec.Marshal(msg),
		Header: telemetry.Inject(ctx, nil),
	}
	var onReply bus.Callback
	if replyHandler != nil {
		onReply = b.adapt(address, "", replyHandler)
	}

	err = b.transportError(address, b.transport.Send(address, out, onReply))

	b.tracer.EndSpan(span, telemetry.MessageSpanOptions{
		Kind: msg.Kind().String(),
		Size: len(out.Data),
		Body: b.debugBody(msg),
	}, err)
	b.record(ctx, telemetry.Event{
		Name:    telemetry.EventSend,
		Address: address,
		Kind:    msg.Kind().String(),
		Size:    len(out.Data),
		Reply:   replyHandler != nil,
	}, err)
	return err
}

// Publish delivers message to every handler on address. Recipients cannot
// reply.
func (b *EventBus) Publish(address string, message any) error {
	return b.PublishContext(context.Background(), address, message)
}

// PublishContext is Publish continuing the trace in ctx.
func (b *EventBus) PublishContext(ctx context.Context, address string, message any) error {
	if err := validateAddress(address); err != nil {
		return err
	}
	msg, err := codec.EncodeBody(message)
	if err != nil {
		return err
	}
	if b.closed.Load() {
		return errors.Closed(errors.WithAddress(address))
	}

	ctx, span := b.tracer.StartPublishSpan(ctx, address)
	out := &bus.Message{
		Data:   codec.Marshal(msg),
		Header: telemetry.Inject(ctx, nil),
	}

	err = b.transportError(address, b.transport.Publish(address, out))

	b.tracer.EndSpan(span, telemetry.MessageSpanOptions{
		Kind: msg.Kind().String(),
		Size: len(out.Data),
		Body: b.debugBody(msg),
	}, err)
	b.record(ctx, telemetry.Event{
		Name:    telemetry.EventPublish,
		Address: address,
		Kind:    msg.Kind().String(),
		Size:    len(out.Data),
	}, err)
	return err
}

// Handlers returns the number of handlers this bus registered on address.
func (b *EventBus) Handlers(address string) int {
	return b.registry.count(address)
}

// Addresses returns the addresses with at least one registered handler.
func (b *EventBus) Addresses() []string {
	return b.registry.addresses()
}

// Close removes every registration, flushes recorded events and closes the
// transport. Further calls fail with CLOSED.
func (b *EventBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return errors.Join(
		b.registry.clear(),
		b.events.Flush(),
		b.transport.Close(),
	)
}

func validateAddress(address string) error {
	if address == "" {
		return errors.InvalidAddress()
	}
	return nil
}

// transportError classifies an error returned synchronously by the transport.
func (b *EventBus) transportError(address string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.AsBusError(err) != nil:
		return err
	case stderrors.Is(err, bus.ErrClosed):
		return errors.Closed(errors.WithAddress(address), errors.WithCause(err))
	case stderrors.Is(err, bus.ErrInvalidAddress):
		return errors.InvalidAddress(errors.WithAddress(address), errors.WithCause(err))
	}
	return errors.DeliveryFailure(address, err)
}

func (b *EventBus) debugBody(m codec.Message) string {
	if !b.tracer.Debug() {
		return ""
	}
	data, err := m.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(data)
}

func (b *EventBus) record(ctx context.Context, ev telemetry.Event, err error) {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		ev.TraceID = sc.TraceID().String()
	}
	if err != nil {
		ev.Error = err.Error()
	}
	b.events.Record(ev)
}
