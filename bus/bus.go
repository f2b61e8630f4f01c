package bus

import (
	"errors"
	"strings"
	"time"

	"github.com/vinayprograms/eventbus/logging"
)

// Common errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrTimeout        = errors.New("reply timeout")
	ErrNoHandlers     = errors.New("no handlers for address")
	ErrBufferFull     = errors.New("subscription buffer full")
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidHandle  = errors.New("handle not issued by this transport")
	ErrNoReplyAddress = errors.New("message has no reply address")
)

// InboxPrefix starts every one-shot reply address.
const InboxPrefix = "_INBOX."

// Scope controls how far a subscription is visible.
type Scope int

const (
	// ScopeCluster subscriptions receive messages from every node on the bus.
	ScopeCluster Scope = iota
	// ScopeLocal subscriptions only receive messages sent in this process.
	ScopeLocal
)

// String returns the scope name.
func (s Scope) String() string {
	if s == ScopeLocal {
		return "local"
	}
	return "cluster"
}

// Message is the transport-level unit: an already encoded body plus routing.
type Message struct {
	// Address the message was sent or published to.
	Address string

	// Data is the encoded payload. Nil on failure notifications.
	Data []byte

	// Header carries out-of-band metadata such as trace context.
	Header map[string]string

	// Reply is the address a response should go to.
	// Empty for published messages and sends without a reply expectation.
	Reply string

	// Err is set when the transport reports a failed delivery to a reply
	// callback instead of a response.
	Err error
}

// clone copies the routing fields and header so each recipient owns its copy.
func (m *Message) clone() *Message {
	cp := &Message{
		Address: m.Address,
		Data:    m.Data,
		Reply:   m.Reply,
		Err:     m.Err,
	}
	if len(m.Header) > 0 {
		cp.Header = make(map[string]string, len(m.Header))
		for k, v := range m.Header {
			cp.Header[k] = v
		}
	}
	return cp
}

// Callback is invoked by a transport for every message delivered to a
// subscription or reply inbox.
type Callback func(in *Message)

// Handle identifies a registration made through Transport.Register.
type Handle interface {
	Address() string
	Scope() Scope
}

// Transport moves encoded messages between addresses. Implementations own
// dispatch: callbacks run on goroutines the transport chooses, and messages
// from one sender to one subscription arrive in the order they were sent.
type Transport interface {
	// Register subscribes cb to address with the given scope.
	Register(address string, scope Scope, cb Callback) (Handle, error)

	// Unregister removes a registration. Removing a handle twice is a no-op.
	Unregister(h Handle) error

	// Send delivers msg to one subscription on address. When onReply is
	// non-nil a one-shot reply inbox is created and its address set on the
	// delivered message; onReply receives the response or a failure.
	Send(address string, msg *Message, onReply Callback) error

	// Publish delivers msg to every subscription on address. Published
	// messages never carry a reply address.
	Publish(address string, msg *Message) error

	// Reply answers a received message, optionally expecting a further reply.
	Reply(to *Message, msg *Message, onReply Callback) error

	// Close releases the transport. Later calls fail with ErrClosed.
	Close() error
}

// Config holds common transport configuration.
type Config struct {
	// BufferSize for subscription queues.
	// Default: 256
	BufferSize int

	// ReplyTimeout fails a reply expectation with ErrTimeout when no reply
	// arrives in time. Zero waits forever.
	ReplyTimeout time.Duration

	// Logger receives drop and failure diagnostics. Default: discard.
	Logger *logging.Logger
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultConfig().BufferSize
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
	return c
}

// ValidateAddress checks that an address can be routed.
func ValidateAddress(address string) error {
	if address == "" {
		return ErrInvalidAddress
	}
	return nil
}

// IsInbox reports whether address is a one-shot reply inbox.
func IsInbox(address string) bool {
	return strings.HasPrefix(address, InboxPrefix)
}
