package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both missing records and records hidden by scope
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the access policy denies an operation
	ErrForbidden = errors.New("forbidden")
	// ErrLocked is returned when a token holder edits a request staff already picked up
	ErrLocked = errors.New("locked")
	// ErrVersionConflict is returned when the request changed since it was read
	ErrVersionConflict = errors.New("request was modified by someone else")

	ErrTokenExpired             = errors.New("access token expired")
	ErrTokenInvalid             = errors.New("access token invalid")
	ErrAccessDisabled           = errors.New("access disabled")
	ErrTokenGenerationExhausted = errors.New("unable to generate a unique access token")

	ErrEmptySelection = errors.New("no requests selected")
	ErrInvalidAction  = errors.New("invalid action")

	// ErrDeliveryFailed means the token email could not be sent and the submission was rolled back
	ErrDeliveryFailed = errors.New("email delivery failed")
)

// ValidationError describes a rejected input field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for a field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsTokenError reports whether err is one of the access-token failures
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenInvalid) || errors.Is(err, ErrAccessDisabled)
}

// IsValidationError reports whether err is a rejected input
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
