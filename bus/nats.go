package bus

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATSBus implements Transport using NATS.
//
// Cluster-scope registrations hold two NATS subscriptions: a plain one on the
// publish subject and a queue subscription on the point-to-point subject, so
// Publish reaches every handler while Send reaches one. Both feed a single
// per-registration queue drained by one goroutine. Local-scope
// registrations live in an embedded MemoryBus and are preferred by Send.
type NATSBus struct {
	conn   *nats.Conn
	config NATSConfig
	local  *MemoryBus
	owned  bool

	mu      sync.Mutex
	handles map[*natsHandle]struct{}
	closed  atomic.Bool
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	Config // Embed base config

	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for identification.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// SubjectPrefix namespaces every subject this bus uses.
	// Default: "eventbus"
	SubjectPrefix string

	// QueueGroup shared by point-to-point subscriptions.
	// Default: "handlers"
	QueueGroup string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int

	// ConnectTimeout for initial connection.
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Config:         DefaultConfig(),
		URL:            nats.DefaultURL,
		SubjectPrefix:  "eventbus",
		QueueGroup:     "handlers",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1, // Unlimited
		ConnectTimeout: 5 * time.Second,
	}
}

func (c NATSConfig) withDefaults() NATSConfig {
	def := DefaultNATSConfig()
	c.Config = c.Config.withDefaults()
	if c.URL == "" {
		c.URL = def.URL
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = def.SubjectPrefix
	}
	if c.QueueGroup == "" {
		c.QueueGroup = def.QueueGroup
	}
	return c
}

// NewNATSBus connects to NATS and returns a bus that owns the connection.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	cfg = cfg.withDefaults()

	conn, err := nats.Connect(cfg.URL, buildNATSOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	b := NewNATSBusFromConn(conn, cfg)
	b.owned = true
	return b, nil
}

// NewNATSBusFromConn creates a NATSBus from an existing connection. Closing
// the bus leaves the connection open.
func NewNATSBusFromConn(conn *nats.Conn, cfg NATSConfig) *NATSBus {
	cfg = cfg.withDefaults()
	return &NATSBus{
		conn:    conn,
		config:  cfg,
		local:   NewMemoryBus(cfg.Config),
		handles: make(map[*natsHandle]struct{}),
	}
}

// buildNATSOptions constructs NATS connection options from config.
func buildNATSOptions(cfg NATSConfig) []nats.Option {
	logger := cfg.Logger
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil && errors.Is(err, nats.ErrSlowConsumer) {
				logger.MessageDropped(sub.Subject, err.Error())
				return
			}
			logger.Warn("nats_error", map[string]interface{}{"error": err.Error()})
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats_disconnected", map[string]interface{}{"error": err.Error()})
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats_reconnected", map[string]interface{}{"url": c.ConnectedUrl()})
		}),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	return opts
}

// subject builds "<prefix>.<kind>.<token>" for an address. Addresses that are
// not a safe sequence of NATS tokens are base64 encoded into a single token.
func (b *NATSBus) subject(kind, address string) string {
	return b.config.SubjectPrefix + "." + kind + "." + subjectToken(address)
}

func subjectToken(address string) string {
	if safeSubject(address) {
		return address
	}
	return "b64." + base64.RawURLEncoding.EncodeToString([]byte(address))
}

func safeSubject(address string) bool {
	if strings.HasPrefix(address, "b64.") {
		return false
	}
	for _, tok := range strings.Split(address, ".") {
		if tok == "" || tok == "*" || tok == ">" {
			return false
		}
		for _, r := range tok {
			ok := r == '-' || r == '_' ||
				(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			if !ok {
				return false
			}
		}
	}
	return true
}

// Register subscribes cb to address.
func (b *NATSBus) Register(address string, scope Scope, cb Callback) (Handle, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	if b.isClosed() {
		return nil, ErrClosed
	}
	if scope == ScopeLocal {
		return b.local.Register(address, ScopeLocal, cb)
	}
	if cb == nil {
		return nil, ErrInvalidHandle
	}

	h := &natsHandle{
		address: address,
		cb:      cb,
		msgs:    make(chan *nats.Msg, b.config.BufferSize),
		done:    make(chan struct{}),
		bus:     b,
	}

	// Both subscriptions feed one channel. The connection's read loop fills
	// it in arrival order and a single goroutine drains it, so a handler
	// never runs concurrently with itself and sees one sender's messages in
	// the order they were sent.
	pub, err := b.conn.ChanSubscribe(b.subject("pub", address), h.msgs)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	p2p, err := b.conn.ChanQueueSubscribe(b.subject("p2p", address), b.config.QueueGroup, h.msgs)
	if err != nil {
		_ = pub.Unsubscribe()
		return nil, fmt.Errorf("nats queue subscribe: %w", err)
	}
	h.pub, h.p2p = pub, p2p

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		_ = pub.Unsubscribe()
		_ = p2p.Unsubscribe()
		return nil, ErrClosed
	}
	b.handles[h] = struct{}{}
	b.mu.Unlock()

	go h.run()
	return h, nil
}

// Unregister removes a registration.
func (b *NATSBus) Unregister(h Handle) error {
	switch v := h.(type) {
	case *memorySub:
		return b.local.Unregister(v)
	case *natsHandle:
		if v.bus != b {
			return ErrInvalidHandle
		}
		if v.closed.Swap(true) {
			return nil
		}
		b.mu.Lock()
		delete(b.handles, v)
		b.mu.Unlock()
		close(v.done)
		if b.conn.IsClosed() {
			return nil
		}
		return errors.Join(v.pub.Unsubscribe(), v.p2p.Unsubscribe())
	}
	return ErrInvalidHandle
}

// Send delivers msg to one handler. Local handlers on address win over
// cluster handlers.
func (b *NATSBus) Send(address string, msg *Message, onReply Callback) error {
	if err := ValidateAddress(address); err != nil {
		return err
	}
	if b.isClosed() {
		return ErrClosed
	}
	if b.local.Handlers(address) > 0 {
		return b.local.Send(address, msg, onReply)
	}
	return b.publish(b.subject("p2p", address), msg, onReply)
}

// Publish delivers msg to every local and cluster handler on address.
func (b *NATSBus) Publish(address string, msg *Message) error {
	if err := ValidateAddress(address); err != nil {
		return err
	}
	if b.isClosed() {
		return ErrClosed
	}
	if err := b.local.Publish(address, msg); err != nil {
		return err
	}
	return b.publish(b.subject("pub", address), msg, nil)
}

// Reply answers a received message. Messages that arrived through a local
// registration are answered in process.
func (b *NATSBus) Reply(to *Message, msg *Message, onReply Callback) error {
	if to == nil || to.Reply == "" {
		return ErrNoReplyAddress
	}
	if b.isClosed() {
		return ErrClosed
	}
	if IsInbox(to.Reply) {
		return b.local.Reply(to, msg, onReply)
	}
	return b.publish(to.Reply, msg, onReply)
}

func (b *NATSBus) publish(subject string, msg *Message, onReply Callback) error {
	out := &nats.Msg{
		Subject: subject,
		Data:    msg.Data,
	}
	if len(msg.Header) > 0 {
		out.Header = nats.Header{}
		for k, v := range msg.Header {
			out.Header.Set(k, v)
		}
	}

	if onReply != nil {
		reply, err := b.openInbox(subject, onReply)
		if err != nil {
			return err
		}
		out.Reply = reply
	}

	if err := b.conn.PublishMsg(out); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrClosed
		}
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// openInbox subscribes a one-shot reply subject. The callback fires exactly
// once: with the reply, with ErrNoHandlers when the server reports no
// responders, or with ErrTimeout.
func (b *NATSBus) openInbox(target string, cb Callback) (string, error) {
	inbox := b.config.SubjectPrefix + ".inbox." + uuid.NewString()

	var (
		once  sync.Once
		mu    sync.Mutex
		timer *time.Timer
	)
	fire := func(m *Message) {
		once.Do(func() {
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			cb(m)
		})
	}

	sub, err := b.conn.Subscribe(inbox, func(m *nats.Msg) {
		if isNoResponders(m) {
			b.config.Logger.MessageDropped(target, ErrNoHandlers.Error())
			fire(&Message{Address: target, Err: ErrNoHandlers})
			return
		}
		fire(fromNATS(inbox, m))
	})
	if err != nil {
		return "", fmt.Errorf("nats inbox subscribe: %w", err)
	}
	if err := sub.AutoUnsubscribe(1); err != nil {
		_ = sub.Unsubscribe()
		return "", fmt.Errorf("nats inbox: %w", err)
	}

	if b.config.ReplyTimeout > 0 {
		mu.Lock()
		timer = time.AfterFunc(b.config.ReplyTimeout, func() {
			_ = sub.Unsubscribe()
			fire(&Message{Address: target, Err: ErrTimeout})
		})
		mu.Unlock()
	}
	return inbox, nil
}

func isNoResponders(m *nats.Msg) bool {
	return len(m.Data) == 0 && m.Header != nil && m.Header.Get("Status") == "503"
}

func fromNATS(address string, m *nats.Msg) *Message {
	msg := &Message{
		Address: address,
		Data:    m.Data,
		Reply:   m.Reply,
	}
	if len(m.Header) > 0 {
		msg.Header = make(map[string]string, len(m.Header))
		for k := range m.Header {
			msg.Header[k] = m.Header.Get(k)
		}
	}
	return msg
}

func (b *NATSBus) isClosed() bool {
	return b.closed.Load() || b.conn.IsClosed()
}

// Close releases local registrations and, when the bus created the
// connection, drains and closes it.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	if b.closed.Swap(true) {
		b.mu.Unlock()
		return nil
	}
	handles := b.handles
	b.handles = nil
	b.mu.Unlock()

	for h := range handles {
		if !h.closed.Swap(true) {
			close(h.done)
		}
	}
	_ = b.local.Close()
	if b.owned {
		if err := b.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.conn.Close()
			return fmt.Errorf("nats drain: %w", err)
		}
	}
	return nil
}

// Conn returns the underlying NATS connection for advanced use.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

// natsHandle wraps the pair of NATS subscriptions behind one registration.
type natsHandle struct {
	address string
	cb      Callback
	msgs    chan *nats.Msg
	done    chan struct{}
	pub     *nats.Subscription
	p2p     *nats.Subscription
	closed  atomic.Bool
	bus     *NATSBus
}

func (h *natsHandle) run() {
	for {
		select {
		case <-h.done:
			return
		case m := <-h.msgs:
			if h.closed.Load() {
				return
			}
			h.cb(fromNATS(h.address, m))
		}
	}
}

// Address returns the subscribed address.
func (h *natsHandle) Address() string { return h.address }

// Scope returns ScopeCluster.
func (h *natsHandle) Scope() Scope { return ScopeCluster }
