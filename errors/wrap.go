package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already a bus Error, the wrapper keeps its code and category.
// Otherwise, it creates a new Internal error wrapping the original.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var busErr *Error
	if errors.As(err, &busErr) {
		wrapped := &Error{
			code:      busErr.code,
			category:  busErr.category,
			message:   message,
			cause:     err,
			metadata:  busErr.Metadata(),
			retryable: busErr.retryable,
			timestamp: busErr.timestamp,
			address:   busErr.address,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsBusError extracts a BusError from an error chain.
// Returns nil if no BusError is found.
func AsBusError(err error) BusError {
	var busErr *Error
	if errors.As(err, &busErr) {
		return busErr
	}
	return nil
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	var busErr *Error
	if errors.As(err, &busErr) {
		return busErr.code == code
	}
	return false
}

// IsCategory checks if the first bus error in the chain has the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var busErr *Error
	if errors.As(err, &busErr) {
		return busErr.category == category
	}
	return false
}

// IsRetryable checks if the error is retryable.
// Errors outside the taxonomy are never retryable.
func IsRetryable(err error) bool {
	var busErr *Error
	if errors.As(err, &busErr) {
		return busErr.Retryable()
	}
	return false
}

// Code extracts the error code from an error, if available.
// Returns empty string if err is not a bus Error.
func Code(err error) ErrorCode {
	var busErr *Error
	if errors.As(err, &busErr) {
		return busErr.code
	}
	return ""
}

// Join combines multiple errors into a single error.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
