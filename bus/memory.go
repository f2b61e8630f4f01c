package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MemoryBus implements Transport inside one process.
// Both scopes are visible to every sender in the process.
type MemoryBus struct {
	config Config

	mu      sync.RWMutex
	subs    map[string][]*memorySub
	rr      map[string]uint64 // address -> round-robin cursor for Send
	inboxes map[string]*inbox
	closed  atomic.Bool
}

// memorySub is one registration. A single goroutine drains ch so that a
// subscription sees messages in enqueue order.
type memorySub struct {
	address string
	scope   Scope
	cb      Callback
	ch      chan *Message
	done    chan struct{}
	closed  atomic.Bool
	bus     *MemoryBus
}

// inbox is a one-shot reply subscription.
type inbox struct {
	cb    Callback
	timer *time.Timer
}

// NewMemoryBus creates a new in-memory transport.
func NewMemoryBus(cfg Config) *MemoryBus {
	return &MemoryBus{
		config:  cfg.withDefaults(),
		subs:    make(map[string][]*memorySub),
		rr:      make(map[string]uint64),
		inboxes: make(map[string]*inbox),
	}
}

// Register subscribes cb to address.
func (b *MemoryBus) Register(address string, scope Scope, cb Callback) (Handle, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, ErrInvalidHandle
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		address: address,
		scope:   scope,
		cb:      cb,
		ch:      make(chan *Message, b.config.BufferSize),
		done:    make(chan struct{}),
		bus:     b,
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[address] = append(b.subs[address], sub)
	b.mu.Unlock()

	go sub.run()
	return sub, nil
}

// Unregister removes a registration.
func (b *MemoryBus) Unregister(h Handle) error {
	sub, ok := h.(*memorySub)
	if !ok || sub.bus != b {
		return ErrInvalidHandle
	}
	if sub.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	b.removeSub(sub)
	b.mu.Unlock()

	close(sub.done)
	return nil
}

// removeSub drops a subscription from the address list. Caller holds mu.
func (b *MemoryBus) removeSub(target *memorySub) {
	subs := b.subs[target.address]
	for i, sub := range subs {
		if sub == target {
			b.subs[target.address] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[target.address]) == 0 {
		delete(b.subs, target.address)
		delete(b.rr, target.address)
	}
}

// Send delivers msg to one live subscription, rotating round-robin.
func (b *MemoryBus) Send(address string, msg *Message, onReply Callback) error {
	if err := ValidateAddress(address); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}
	return b.deliverOne(address, msg, onReply)
}

// Reply answers a received message through its reply inbox.
func (b *MemoryBus) Reply(to *Message, msg *Message, onReply Callback) error {
	if to == nil || to.Reply == "" {
		return ErrNoReplyAddress
	}
	if b.closed.Load() {
		return ErrClosed
	}
	return b.deliverOne(to.Reply, msg, onReply)
}

func (b *MemoryBus) deliverOne(address string, msg *Message, onReply Callback) error {
	out := msg.clone()
	out.Address = address
	out.Reply = ""
	if onReply != nil {
		out.Reply = b.openInbox(onReply)
	}

	if IsInbox(address) {
		b.mu.Lock()
		in, ok := b.inboxes[address]
		if ok {
			delete(b.inboxes, address)
		}
		b.mu.Unlock()

		if !ok {
			b.fail(out, ErrNoHandlers)
			return nil
		}
		if in.timer != nil {
			in.timer.Stop()
		}
		go in.cb(out)
		return nil
	}

	b.mu.Lock()
	sub := b.pick(address)
	b.mu.Unlock()

	if sub == nil {
		b.fail(out, ErrNoHandlers)
		return nil
	}
	if !sub.enqueue(out) {
		b.fail(out, ErrBufferFull)
	}
	return nil
}

// pick selects the next live subscription on address. Caller holds mu.
func (b *MemoryBus) pick(address string) *memorySub {
	subs := b.subs[address]
	for range subs {
		cursor := b.rr[address]
		b.rr[address] = cursor + 1
		sub := subs[cursor%uint64(len(subs))]
		if !sub.closed.Load() {
			return sub
		}
	}
	return nil
}

// fail reports an undeliverable message to the sender's reply inbox, if the
// sender is waiting for one. Otherwise the message is dropped.
func (b *MemoryBus) fail(out *Message, cause error) {
	b.config.Logger.MessageDropped(out.Address, cause.Error())
	if out.Reply == "" {
		return
	}

	b.mu.Lock()
	in, ok := b.inboxes[out.Reply]
	if ok {
		delete(b.inboxes, out.Reply)
	}
	b.mu.Unlock()

	if !ok {
		return
	}
	if in.timer != nil {
		in.timer.Stop()
	}
	go in.cb(&Message{Address: out.Address, Err: cause})
}

// openInbox registers a one-shot reply callback and returns its address.
func (b *MemoryBus) openInbox(cb Callback) string {
	address := InboxPrefix + uuid.NewString()
	in := &inbox{cb: cb}

	b.mu.Lock()
	b.inboxes[address] = in
	if b.config.ReplyTimeout > 0 {
		in.timer = time.AfterFunc(b.config.ReplyTimeout, func() {
			b.expire(address)
		})
	}
	b.mu.Unlock()

	return address
}

// expire fails an inbox whose reply did not arrive in time.
func (b *MemoryBus) expire(address string) {
	b.mu.Lock()
	in, ok := b.inboxes[address]
	if ok {
		delete(b.inboxes, address)
	}
	b.mu.Unlock()

	if ok {
		in.cb(&Message{Address: address, Err: ErrTimeout})
	}
}

// Publish delivers msg to every live subscription on address.
func (b *MemoryBus) Publish(address string, msg *Message) error {
	if err := ValidateAddress(address); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.RLock()
	subs := append([]*memorySub(nil), b.subs[address]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		out := msg.clone()
		out.Address = address
		out.Reply = ""
		if !sub.enqueue(out) {
			b.config.Logger.MessageDropped(address, ErrBufferFull.Error())
		}
	}
	return nil
}

// Handlers returns the number of live subscriptions on address.
func (b *MemoryBus) Handlers(address string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[address])
}

// PendingReplies returns the number of open reply inboxes.
func (b *MemoryBus) PendingReplies() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.inboxes)
}

// Close shuts down the bus. Pending reply inboxes are dropped silently.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.subs {
		for _, sub := range subs {
			if !sub.closed.Swap(true) {
				close(sub.done)
			}
		}
	}
	for _, in := range b.inboxes {
		if in.timer != nil {
			in.timer.Stop()
		}
	}

	b.subs = make(map[string][]*memorySub)
	b.rr = make(map[string]uint64)
	b.inboxes = make(map[string]*inbox)

	return nil
}

// Address returns the subscribed address.
func (s *memorySub) Address() string { return s.address }

// Scope returns the subscription scope.
func (s *memorySub) Scope() Scope { return s.scope }

// enqueue queues msg without blocking. It reports false when the
// subscription is closed or its buffer is full.
func (s *memorySub) enqueue(msg *Message) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

// run delivers queued messages until the subscription is closed. A message
// still queued when the subscription closes is never delivered.
func (s *memorySub) run() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.ch:
			if s.closed.Load() {
				return
			}
			s.cb(msg)
		}
	}
}
