// Package errors provides the structured error taxonomy of the event bus.
//
// # Error Categories
//
//   - Transient: the transport could not deliver right now (no handler, timeout)
//   - Permanent: the call itself is wrong (empty address, nil handler, bad value)
//   - Resource: a subscription buffer overflowed
//   - Internal: handler panics and undecodable payloads
//
// Validation errors (INVALID_ADDRESS, INVALID_HANDLER, INVALID_REPLY_HANDLER,
// MISSING_REPLY_VALUE, UNSUPPORTED_TYPE) are programmer errors and are never
// retryable. DELIVERY_FAILURE is the only code an application may retry; the
// bus never retries on its own.
//
// # Usage
//
//	err := errors.UnsupportedType("chan int")
//	if errors.Is(err, errors.ErrCodeUnsupportedType) {
//	    // fix the call site
//	}
//
//	if errors.IsRetryable(env.Err) {
//	    // resend
//	}
//
// Errors marshal to JSON so they can travel as message bodies between nodes.
package errors
