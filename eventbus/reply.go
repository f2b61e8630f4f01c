package eventbus

import (
	"context"
	"sync/atomic"

	"github.com/vinayprograms/eventbus/bus"
	"github.com/vinayprograms/eventbus/codec"
	"github.com/vinayprograms/eventbus/errors"
	"github.com/vinayprograms/eventbus/telemetry"
)

// Handler receives messages delivered to an address or replies to a send.
type Handler func(env *Envelope)

// Envelope is what a Handler receives: the decoded body, or the reason the
// delivery failed, plus the capability to answer.
type Envelope struct {
	// Address the message was sent to. For replies, the address of the
	// original request.
	Address string

	// Body is the decoded message value. Nil when Err is set.
	Body any

	// Err reports a failed delivery (code DELIVERY_FAILURE, wrapping the
	// transport error) or an undecodable payload (code CORRUPTION).
	Err error

	msg     codec.Message
	in      *bus.Message
	bus     *EventBus
	ctx     context.Context
	replied atomic.Bool
}

// Message returns the body as received on the wire. Use it to tell Int64
// from Float64 bodies, which Body does not distinguish by value.
func (e *Envelope) Message() codec.Message {
	return e.msg
}

// CanReply reports whether the sender is waiting for a reply. Published
// messages and sends without a reply handler never can.
func (e *Envelope) CanReply() bool {
	return e.Err == nil && e.in != nil && e.in.Reply != ""
}

// Context carries the trace of the delivery. Pass it to SendContext or
// PublishContext to continue the trace.
func (e *Envelope) Context() context.Context {
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

// Reply answers the message. value must not be nil; reply with an empty map
// to send an empty body. When next is non-nil, it receives the reply to this
// reply, so conversations can continue for any number of turns.
//
// Each envelope accepts one reply. Failures encoding value leave the envelope
// able to reply again.
func (e *Envelope) Reply(value any, next Handler) error {
	if !e.CanReply() {
		return errors.FromCode(errors.ErrCodeNoReplyChannel, errors.WithAddress(e.Address))
	}
	if value == nil {
		return errors.MissingReplyValue(errors.WithAddress(e.Address))
	}
	msg, err := codec.EncodeBody(value)
	if err != nil {
		return err
	}
	if !e.replied.CompareAndSwap(false, true) {
		return errors.FromCode(errors.ErrCodeAlreadyReplied, errors.WithAddress(e.Address))
	}
	return e.bus.reply(e, msg, next)
}

// adapt wraps a caller handler into the callback a transport invokes. The
// same construction serves registered handlers, reply handlers and every
// further hop of a conversation.
func (b *EventBus) adapt(address string, id HandlerID, h Handler) bus.Callback {
	return func(in *bus.Message) {
		env := b.envelope(address, in)

		ctx := telemetry.Extract(context.Background(), in.Header)
		ctx, span := b.tracer.StartDeliverSpan(ctx, address)
		env.ctx = ctx

		err := b.invoke(h, env)
		if err == nil {
			err = env.Err
		}

		size := len(in.Data)
		b.tracer.EndSpan(span, telemetry.MessageSpanOptions{
			Kind:      env.kindName(),
			Size:      size,
			HandlerID: string(id),
			Body:      b.debugBody(env.msg),
		}, err)
		name := telemetry.EventDeliver
		if errors.Is(err, errors.ErrCodePanic) {
			name = telemetry.EventFailure
		}
		b.record(ctx, telemetry.Event{
			Name:      name,
			Address:   address,
			HandlerID: string(id),
			Kind:      env.kindName(),
			Size:      size,
			Reply:     env.in != nil && env.in.Reply != "",
		}, err)
	}
}

// envelope decodes an inbound transport message.
func (b *EventBus) envelope(address string, in *bus.Message) *Envelope {
	env := &Envelope{Address: address, in: in, bus: b}

	if in.Err != nil {
		env.Err = errors.DeliveryFailure(address, in.Err)
		b.logger.DeliveryFailed(address, in.Err)
		return env
	}

	msg, err := codec.Unmarshal(in.Data)
	if err != nil {
		env.Err = errors.Wrap(err, "decode message", errors.WithAddress(address))
		b.logger.DeliveryFailed(address, err)
		return env
	}
	env.msg = msg
	env.Body = codec.Decode(msg)
	return env
}

// invoke runs a handler, turning a panic into an error.
func (b *EventBus) invoke(h Handler, env *Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := errors.RecoverPanic(r)
			b.logger.HandlerPanic(env.Address, perr)
			err = perr
		}
	}()
	h(env)
	return nil
}

func (b *EventBus) reply(env *Envelope, msg codec.Message, next Handler) error {
	ctx, span := b.tracer.StartReplySpan(env.Context(), env.Address)

	out := &bus.Message{
		Data:   codec.Marshal(msg),
		Header: telemetry.Inject(ctx, nil),
	}
	var onReply bus.Callback
	if next != nil {
		onReply = b.adapt(env.Address, "", next)
	}

	err := b.transportError(env.Address, b.transport.Reply(env.in, out, onReply))
	if err != nil {
		b.logger.ReplyFailed(env.Address, err)
	}

	b.tracer.EndSpan(span, telemetry.MessageSpanOptions{
		Kind: msg.Kind().String(),
		Size: len(out.Data),
		Body: b.debugBody(msg),
	}, err)
	b.record(ctx, telemetry.Event{
		Name:    telemetry.EventReply,
		Address: env.Address,
		Kind:    msg.Kind().String(),
		Size:    len(out.Data),
		Reply:   next != nil,
	}, err)
	return err
}

func (e *Envelope) kindName() string {
	if e.Err != nil {
		return ""
	}
	return e.msg.Kind().String()
}
