package webhook

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure the way the dispatcher and registry
// need to reason about it, distinct from the HTTP-facing error types
// used elsewhere in the product.
type ErrorKind string

const (
	KindNotFound             ErrorKind = "not_found"
	KindValidation           ErrorKind = "validation_error"
	KindTransportTransient   ErrorKind = "transport_transient"
	KindTransportPermanent   ErrorKind = "transport_permanent"
	KindStorage              ErrorKind = "storage_error"
	KindCorruptSubscription  ErrorKind = "corrupt_subscription"
	KindInternalProcessorBug ErrorKind = "internal_processor_bug"
)

// Error is the package's typed error, carrying enough context for
// callers to branch on Kind without string matching.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) withCause(cause error) *Error {
	e.Cause = cause
	return e
}

func NotFoundError(resource string, id interface{}) *Error {
	return newError(KindNotFound, fmt.Sprintf("%s %v not found", resource, id))
}

func ValidationError(message string) *Error {
	return newError(KindValidation, message)
}

func TransientTransportError(message string, cause error) *Error {
	return newError(KindTransportTransient, message).withCause(cause)
}

func PermanentTransportError(message string, cause error) *Error {
	return newError(KindTransportPermanent, message).withCause(cause)
}

func StorageError(message string, cause error) *Error {
	return newError(KindStorage, message).withCause(cause)
}

func CorruptSubscriptionError(message string, cause error) *Error {
	return newError(KindCorruptSubscription, message).withCause(cause)
}

func InternalProcessorBugError(message string, cause error) *Error {
	return newError(KindInternalProcessorBug, message).withCause(cause)
}

// IsNotFound reports whether err is (or wraps) a not-found Error.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNotFound
}
