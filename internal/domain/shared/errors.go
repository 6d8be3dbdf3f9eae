package shared

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-level error. Two DomainErrors match under
// errors.Is when their codes are equal, so a specialised message still
// satisfies errors.Is(err, ErrConditionFailed).
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	cause   error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap exposes the underlying cause, if any.
func (e *DomainError) Unwrap() error {
	return e.cause
}

// Is reports whether target is a DomainError with the same code.
func (e *DomainError) Is(target error) bool {
	var de *DomainError
	if !errors.As(target, &de) {
		return false
	}
	return de.Code == e.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// Wrap returns a copy of the receiver's kind carrying cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, cause: cause}
}

// Withf returns a copy of the receiver's kind with a formatted message.
func (e *DomainError) Withf(format string, args ...any) *DomainError {
	return &DomainError{Code: e.Code, Message: fmt.Sprintf(format, args...), cause: e.cause}
}

// Error codes
const (
	CodeNotFound         = "NOT_FOUND"
	CodeAlreadyProcessed = "ALREADY_PROCESSED"
	CodeValidation       = "VALIDATION_ERROR"
	CodeTransientStore   = "TRANSIENT_STORE_ERROR"
	CodePoisonMessage    = "POISON_MESSAGE"
	CodeChannelGone      = "CHANNEL_GONE"
	CodeForbidden        = "FORBIDDEN"
	CodeInvalidState     = "INVALID_STATE"
	CodePublish          = "PUBLISH_ERROR"
)

// Common domain errors
var (
	ErrNotFound = NewDomainError(CodeNotFound, "resource not found")
	// ErrConditionFailed is returned when a conditional write loses: the key
	// already exists or the stored state no longer matches. Callers treat it
	// as "already processed".
	ErrConditionFailed = NewDomainError(CodeAlreadyProcessed, "already processed")
	ErrValidation      = NewDomainError(CodeValidation, "invalid input")
	// ErrTransientStore marks throttling, timeouts and unavailability. Safe to retry.
	ErrTransientStore = NewDomainError(CodeTransientStore, "store temporarily unavailable")
	ErrPoisonMessage  = NewDomainError(CodePoisonMessage, "message exhausted its deliveries")
	ErrChannelGone    = NewDomainError(CodeChannelGone, "client channel is gone")
	ErrForbidden      = NewDomainError(CodeForbidden, "access to this resource is forbidden")
	ErrInvalidState   = NewDomainError(CodeInvalidState, "operation not allowed in current state")
	ErrPublish        = NewDomainError(CodePublish, "event was not accepted by the bus")
)

// IsRetryable reports whether err is worth retrying with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStore)
}

// CodeOf returns the DomainError code in err's chain, or "".
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
