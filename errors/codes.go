package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: no live handler on an address, transport reconnecting.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: empty address, nil handler, value with no wire representation.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	// Examples: panics in handlers, corrupted wire payloads.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for bus failures.
const (
	// Validation errors, raised synchronously at the offending call.
	ErrCodeInvalidAddress      ErrorCode = "INVALID_ADDRESS"       // Empty address
	ErrCodeInvalidHandler      ErrorCode = "INVALID_HANDLER"       // Missing handler or handler id
	ErrCodeInvalidReplyHandler ErrorCode = "INVALID_REPLY_HANDLER" // Reply handler required but absent
	ErrCodeMissingReplyValue   ErrorCode = "MISSING_REPLY_VALUE"   // Reply invoked without a value
	ErrCodeUnsupportedType     ErrorCode = "UNSUPPORTED_TYPE"      // Value has no wire variant
	ErrCodeInvalidInput        ErrorCode = "INVALID_INPUT"         // Malformed input (config, CLI, wire)
	ErrCodeNoReplyChannel      ErrorCode = "NO_REPLY_CHANNEL"      // Reply on a message that expects none
	ErrCodeAlreadyReplied      ErrorCode = "ALREADY_REPLIED"       // Second reply to the same message

	// Transport errors, surfaced asynchronously. Transport timeouts and full
	// buffers reach handlers as DELIVERY_FAILURE with the transport error as
	// cause.
	ErrCodeDeliveryFailure ErrorCode = "DELIVERY_FAILURE" // Recipient unknown or transport failed
	ErrCodeClosed          ErrorCode = "CLOSED"           // Bus or transport closed

	// Caller-side deadlines (Wrap of context.DeadlineExceeded, CLI waits).
	ErrCodeTimeout ErrorCode = "TIMEOUT" // Caller gave up waiting for a reply

	// Internal errors
	ErrCodeInternal   ErrorCode = "INTERNAL"   // Unexpected internal error
	ErrCodeCorruption ErrorCode = "CORRUPTION" // Undecodable wire payload
	ErrCodePanic      ErrorCode = "PANIC"      // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeDeliveryFailure, ErrCodeTimeout:
		return CategoryTransient

	case ErrCodeInvalidAddress, ErrCodeInvalidHandler, ErrCodeInvalidReplyHandler,
		ErrCodeMissingReplyValue, ErrCodeUnsupportedType, ErrCodeInvalidInput,
		ErrCodeNoReplyChannel, ErrCodeAlreadyReplied, ErrCodeClosed:
		return CategoryPermanent

	case ErrCodeInternal, ErrCodeCorruption, ErrCodePanic:
		return CategoryInternal

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeInvalidAddress:      "address must be a non-empty string",
	ErrCodeInvalidHandler:      "handler must be specified",
	ErrCodeInvalidReplyHandler: "reply handler must be specified",
	ErrCodeMissingReplyValue:   "reply message must be specified",
	ErrCodeUnsupportedType:     "invalid type for message",
	ErrCodeInvalidInput:        "invalid input provided",
	ErrCodeNoReplyChannel:      "message does not accept replies",
	ErrCodeAlreadyReplied:      "message already replied to",
	ErrCodeDeliveryFailure:     "message delivery failed",
	ErrCodeTimeout:             "reply timed out",
	ErrCodeClosed:              "bus closed",
	ErrCodeInternal:            "internal error",
	ErrCodeCorruption:          "corrupted wire payload",
	ErrCodePanic:               "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
