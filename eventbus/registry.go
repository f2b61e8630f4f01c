package eventbus

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vinayprograms/eventbus/bus"
	"github.com/vinayprograms/eventbus/errors"
)

// HandlerID identifies one registration. It is issued by RegisterHandler and
// is the only key UnregisterHandler accepts.
type HandlerID string

// NewHandlerID returns a fresh random id.
func NewHandlerID() HandlerID {
	return HandlerID(uuid.NewString())
}

// registry maps (address, id) to the transport handle created for it.
// Reply inboxes never appear here; transports drop them after one delivery.
type registry struct {
	transport bus.Transport

	mu      sync.Mutex
	entries map[string]map[HandlerID]bus.Handle
	cleared bool
}

func newRegistry(t bus.Transport) *registry {
	return &registry{
		transport: t,
		entries:   make(map[string]map[HandlerID]bus.Handle),
	}
}

// add registers the callback built by adapt under a fresh id. The transport
// call runs outside the lock; the entry is inserted once it returns. A
// registry cleared in the meantime releases the new handle and reports
// bus.ErrClosed.
func (r *registry) add(address string, scope bus.Scope, adapt func(HandlerID) bus.Callback) (HandlerID, error) {
	id := NewHandlerID()

	h, err := r.transport.Register(address, scope, adapt(id))
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if r.cleared {
		r.mu.Unlock()
		_ = r.transport.Unregister(h)
		return "", bus.ErrClosed
	}
	byID, ok := r.entries[address]
	if !ok {
		byID = make(map[HandlerID]bus.Handle)
		r.entries[address] = byID
	}
	byID[id] = h
	r.mu.Unlock()
	return id, nil
}

// remove deletes the entry for (address, id) and drops its transport handle.
// It reports false when no such entry exists. Concurrent removals of the
// same pair release the handle exactly once.
func (r *registry) remove(address string, id HandlerID) (bool, error) {
	r.mu.Lock()
	h, ok := r.entries[address][id]
	if ok {
		delete(r.entries[address], id)
		if len(r.entries[address]) == 0 {
			delete(r.entries, address)
		}
	}
	r.mu.Unlock()

	if !ok {
		return false, nil
	}
	return true, r.transport.Unregister(h)
}

func (r *registry) count(address string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries[address])
}

func (r *registry) addresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for address := range r.entries {
		out = append(out, address)
	}
	sort.Strings(out)
	return out
}

// clear removes every entry and releases all transport handles. Later adds
// fail.
func (r *registry) clear() error {
	r.mu.Lock()
	r.cleared = true
	entries := r.entries
	r.entries = make(map[string]map[HandlerID]bus.Handle)
	r.mu.Unlock()

	var errs []error
	for _, byID := range entries {
		for _, h := range byID {
			if err := r.transport.Unregister(h); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
