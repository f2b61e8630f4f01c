// Package bus provides the transports that move encoded messages between
// addresses.
//
// # Overview
//
// A Transport registers callbacks on addresses and delivers opaque payloads
// to them. It knows nothing about message values or handler identity; that
// lives one layer up in package eventbus. Transports own dispatch, so
// callbacks run on transport goroutines and never on the sender's stack.
//
// # Available Implementations
//
//   - MemoryBus: in-process delivery for single-node use and tests
//   - NATSBus: cluster delivery over NATS, with local-only registrations
//
// # Patterns
//
// Point-to-point - one registration receives each message:
//
//	h, _ := t.Register("orders", bus.ScopeCluster, func(in *bus.Message) {
//	    t.Reply(in, &bus.Message{Data: ack}, nil)
//	})
//	t.Send("orders", &bus.Message{Data: payload}, func(reply *bus.Message) {
//	    if reply.Err != nil {
//	        // no handler, buffer full or timeout
//	    }
//	})
//
// Publish - every registration receives a copy:
//
//	t.Publish("orders.created", &bus.Message{Data: payload})
//
// # Reply Inboxes
//
// A send that expects a reply opens a one-shot inbox. The inbox fires at
// most once, with the reply or with a failure (Err set, Data nil), and is
// removed as it fires. Replies to a reply work the same way.
//
// # Ordering
//
// Messages from one sender to one registration are delivered in send order.
// A registration removed while messages are still queued receives none of
// them.
package bus
