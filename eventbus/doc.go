// Package eventbus is an addressable publish/subscribe and request/reply
// message bus.
//
// Handlers register on string addresses. Send delivers a value to one handler
// on an address, Publish to all of them. Values are encoded through package
// codec on the way out and decoded before a handler sees them, so handlers
// work with plain Go values:
//
//	eb := eventbus.New(bus.NewMemoryBus(bus.DefaultConfig()))
//	defer eb.Close()
//
//	id, _ := eb.RegisterHandler("prices", func(env *eventbus.Envelope) {
//	    quote := env.Body.(map[string]any)
//	    env.Reply(map[string]any{"accepted": quote["price"]}, nil)
//	})
//
//	eb.Send("prices", map[string]any{"price": 23.45, "name": "tim"},
//	    func(env *eventbus.Envelope) {
//	        if env.Err != nil {
//	            return // not delivered
//	        }
//	        fmt.Println(env.Body)
//	    })
//
//	eb.UnregisterHandler("prices", id)
//
// # Conversations
//
// A reply may carry its own handler, which receives the reply to the reply.
// Each turn is built the same way as the first, so a conversation can run
// for any number of turns and ends when a side replies without a handler.
// Every envelope accepts one reply.
//
// # Errors
//
// Invalid calls (empty address, nil handler, a value with no wire form) fail
// synchronously before anything reaches the transport. Delivery problems
// arrive later, in the reply handler's Envelope.Err with code
// DELIVERY_FAILURE; the transport's own error stays reachable through
// errors.Is.
//
// # Concurrency
//
// The bus starts no goroutines of its own. Handlers run on transport
// goroutines; messages from one sender to one handler arrive in send order.
// All methods are safe for concurrent use, including from inside handlers.
package eventbus
