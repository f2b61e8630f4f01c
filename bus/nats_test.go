package bus

import (
	"errors"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

// getNATSURL returns the NATS URL for testing, or skips the test.
func getNATSURL(t *testing.T) string {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}

	// Skip if short mode or NATS not available
	if testing.Short() {
		t.Skip("skipping NATS test in short mode")
	}

	// Try to connect
	cfg := DefaultNATSConfig()
	cfg.URL = url
	cfg.ConnectTimeout = 2 * time.Second
	cfg.MaxReconnects = 0

	bus, err := NewNATSBus(cfg)
	if err != nil {
		t.Skipf("skipping: NATS not available at %s: %v", url, err)
	}
	bus.Close()

	return url
}

func newTestNATSBus(t *testing.T) *NATSBus {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.URL = getNATSURL(t)
	cfg.SubjectPrefix = "eventbus-test"
	cfg.ReplyTimeout = 2 * time.Second
	bus, err := NewNATSBus(cfg)
	if err != nil {
		t.Fatalf("NewNATSBus error: %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	return bus
}

// --- Unit Tests ---

func TestSubjectToken(t *testing.T) {
	tests := []struct {
		address string
		encoded bool
	}{
		{"orders", false},
		{"orders.created", false},
		{"my-address_1", false},
		{"some address", true},
		{" ", true},
		{"\t", true},
		{"orders.*", true},
		{"orders.>", true},
		{"a..b", true},
		{"b64.lookalike", true},
	}
	for _, tt := range tests {
		got := subjectToken(tt.address)
		if encoded := got != tt.address; encoded != tt.encoded {
			t.Errorf("subjectToken(%q) = %q, encoded=%v want %v", tt.address, got, encoded, tt.encoded)
		}
	}
}

// --- Integration Tests ---

func TestNATSBus_Publish(t *testing.T) {
	bus := newTestNATSBus(t)

	cb1, ch1 := collect(1)
	cb2, ch2 := collect(1)
	if _, err := bus.Register("test.nats", ScopeCluster, cb1); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if _, err := bus.Register("test.nats", ScopeLocal, cb2); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	bus.Conn().Flush()

	if err := bus.Publish("test.nats", &Message{Data: []byte("hello nats")}); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	for i, ch := range []chan *Message{ch1, ch2} {
		msg := receive(t, ch)
		if string(msg.Data) != "hello nats" {
			t.Errorf("handler%d: data = %q", i+1, msg.Data)
		}
		if msg.Address != "test.nats" {
			t.Errorf("handler%d: address = %q", i+1, msg.Address)
		}
	}
}

func TestNATSBus_SendReply(t *testing.T) {
	bus := newTestNATSBus(t)

	bus.Register("test service", ScopeCluster, func(in *Message) {
		bus.Reply(in, &Message{Data: []byte("nats-pong"), Header: map[string]string{"X-Test": "1"}}, nil)
	})
	bus.Conn().Flush()

	cb, ch := collect(1)
	if err := bus.Send("test service", &Message{Data: []byte("ping")}, cb); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	reply := receive(t, ch)
	if reply.Err != nil {
		t.Fatalf("reply error: %v", reply.Err)
	}
	if string(reply.Data) != "nats-pong" {
		t.Errorf("reply = %q, want %q", reply.Data, "nats-pong")
	}
	if reply.Header["X-Test"] != "1" {
		t.Errorf("header = %v", reply.Header)
	}
}

func TestNATSBus_LocalPreferred(t *testing.T) {
	bus := newTestNATSBus(t)

	clusterCb, clusterCh := collect(1)
	localCb, localCh := collect(1)
	bus.Register("test.pref", ScopeCluster, clusterCb)
	bus.Register("test.pref", ScopeLocal, localCb)
	bus.Conn().Flush()

	bus.Send("test.pref", &Message{Data: []byte("x")}, nil)

	receive(t, localCh)
	expectNone(t, clusterCh, 100*time.Millisecond)
}

func TestNATSBus_NoResponders(t *testing.T) {
	bus := newTestNATSBus(t)

	cb, ch := collect(1)
	if err := bus.Send("test.noresponder", &Message{}, cb); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	failure := receive(t, ch)
	if !errors.Is(failure.Err, ErrNoHandlers) && !errors.Is(failure.Err, ErrTimeout) {
		t.Errorf("expected no handlers or timeout, got %v", failure.Err)
	}
}

func TestNATSBus_Unregister(t *testing.T) {
	bus := newTestNATSBus(t)

	cb, ch := collect(1)
	h, _ := bus.Register("test.unreg", ScopeCluster, cb)
	if err := bus.Unregister(h); err != nil {
		t.Fatalf("Unregister error: %v", err)
	}
	if err := bus.Unregister(h); err != nil {
		t.Errorf("second Unregister error: %v", err)
	}
	bus.Conn().Flush()

	bus.Publish("test.unreg", &Message{})
	expectNone(t, ch, 100*time.Millisecond)
}

func TestNATSBus_SendPublishOrdering(t *testing.T) {
	bus := newTestNATSBus(t)

	const n = 200
	var inFlight, overlaps atomic.Int32
	ch := make(chan *Message, n)
	if _, err := bus.Register("test.order", ScopeCluster, func(in *Message) {
		if inFlight.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(100 * time.Microsecond)
		inFlight.Add(-1)
		ch <- in
	}); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	bus.Conn().Flush()

	for i := 0; i < n; i++ {
		msg := &Message{Data: []byte(strconv.Itoa(i))}
		var err error
		if i%2 == 0 {
			err = bus.Send("test.order", msg, nil)
		} else {
			err = bus.Publish("test.order", msg)
		}
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		msg := receive(t, ch)
		if got := string(msg.Data); got != strconv.Itoa(i) {
			t.Fatalf("message %d arrived as %q", i, got)
		}
	}
	if overlaps.Load() != 0 {
		t.Errorf("handler ran concurrently with itself %d times", overlaps.Load())
	}
}

func TestNATSBus_CloseStopsHandlers(t *testing.T) {
	url := getNATSURL(t)

	cfg := DefaultNATSConfig()
	cfg.URL = url
	cfg.SubjectPrefix = "eventbus-test"
	bus, err := NewNATSBus(cfg)
	if err != nil {
		t.Fatalf("NewNATSBus error: %v", err)
	}

	cb, _ := collect(1)
	h, err := bus.Register("test.close", ScopeCluster, cb)
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	bus.Close()

	select {
	case <-h.(*natsHandle).done:
	case <-time.After(time.Second):
		t.Fatal("handler goroutine still running after Close")
	}
	if _, err := bus.Register("test.close", ScopeCluster, cb); !errors.Is(err, ErrClosed) {
		t.Errorf("Register after Close error = %v, want ErrClosed", err)
	}
}

// --- Failure Tests ---

func TestNATSBus_InvalidURL(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}

	cfg := DefaultNATSConfig()
	cfg.URL = "nats://invalid-host-that-does-not-exist:4222"
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.MaxReconnects = 0

	_, err := NewNATSBus(cfg)
	if err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestNATSBus_PublishAfterClose(t *testing.T) {
	url := getNATSURL(t)

	cfg := DefaultNATSConfig()
	cfg.URL = url
	bus, err := NewNATSBus(cfg)
	if err != nil {
		t.Fatalf("NewNATSBus error: %v", err)
	}

	bus.Close()

	if err := bus.Publish("test", &Message{}); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

// --- Performance Tests ---

func BenchmarkNATSBus_Publish(b *testing.B) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		b.Skip("NATS_URL not set")
	}

	cfg := DefaultNATSConfig()
	cfg.URL = url
	bus, err := NewNATSBus(cfg)
	if err != nil {
		b.Fatalf("NewNATSBus error: %v", err)
	}
	defer bus.Close()

	bus.Register("bench", ScopeCluster, func(*Message) {})

	msg := &Message{Data: []byte("benchmark message")}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		bus.Publish("bench", msg)
	}
}
