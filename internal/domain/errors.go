package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConcurrency       = "CONCURRENCY_ERROR"
	ErrCodeTransientExternal = "TRANSIENT_EXTERNAL"
	ErrCodePermanentExternal = "PERMANENT_EXTERNAL"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeSequenceGap       = "SEQUENCE_GAP"
	ErrCodeIncompleteAudio   = "INCOMPLETE_AUDIO"
	ErrCodeSessionFailed     = "SESSION_FAILED"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
	ErrUnsupportedFormat    = NewDomainError(ErrCodeValidation, "unsupported audio format")
	ErrEmptyChunk           = NewDomainError(ErrCodeValidation, "audio chunk payload is empty")
	ErrMalformedFrame       = NewDomainError(ErrCodeValidation, "malformed audio frame")
	ErrDimensionMismatch    = NewDomainError(ErrCodeValidation, "embedding dimension mismatch")
)

// ErrPayloadTooLarge is returned when a request body exceeds the server limit
var ErrPayloadTooLarge = NewDomainError(ErrCodePayloadTooLarge, "request body too large")

// Not found errors
var (
	ErrSessionNotFound = NewDomainError(ErrCodeNotFound, "session not found")
)

// Authorization errors
var (
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
)

// External service errors. Providers and test doubles return these so the
// gateway can classify failures without knowing the transport.
var (
	ErrRateLimited     = NewDomainError(ErrCodeTransientExternal, "external service rate limited")
	ErrServiceDown     = NewDomainError(ErrCodeTransientExternal, "external service unavailable")
	ErrExternalTimeout = NewDomainError(ErrCodeTimeout, "external service timed out")
	ErrMalformedOutput = NewDomainError(ErrCodeTransientExternal, "external service returned malformed output")
	ErrInvalidAudio    = NewDomainError(ErrCodePermanentExternal, "audio rejected by transcription service")
	ErrExternalAuth    = NewDomainError(ErrCodePermanentExternal, "external service rejected credentials")
)

// CodeOf returns the code of the first DomainError in err's chain, or
// ErrCodeInternalError when there is none.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrCodeInternalError
}

// HasCode reports whether any DomainError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var de *DomainError
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// NewValidationError creates a validation error with a caller-facing message
func NewValidationError(message string) *DomainError {
	return NewDomainError(ErrCodeValidation, message)
}

// NewConcurrencyError reports an event that is not allowed in the current state
func NewConcurrencyError(sessionID string, state SessionState, event string) *DomainError {
	return NewDomainError(ErrCodeConcurrency,
		fmt.Sprintf("session %s: %s not allowed in state %s", sessionID, event, state))
}

// SessionFailedError is returned to completion callers when the session ended in
// the failed state. Only the stable reason is exposed.
type SessionFailedError struct {
	SessionID string
	Reason    FailureReason
}

func (e *SessionFailedError) Error() string {
	return fmt.Sprintf("session %s failed: %s", e.SessionID, e.Reason)
}
