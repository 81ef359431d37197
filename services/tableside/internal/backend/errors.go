package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingParams means restaurant, table or token was not supplied.
	ErrMissingParams = errors.New("missing restaurant, table or token")
	// ErrInvalidToken means the backend rejected the table credentials.
	ErrInvalidToken = errors.New("invalid or expired table token")
)

// ValidationError is terminal: retrying with the same input cannot succeed.
type ValidationError struct {
	Err     error
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("validation: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("validation: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NetworkError covers timeouts and unreachable backends.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ConflictError is a 409 answer, e.g. an already active waiter call.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	if e.Message == "" {
		return "conflict"
	}
	return "conflict: " + e.Message
}

// ServerError is any other non-2xx answer.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsNetwork reports whether err is, or wraps, a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsConflict reports whether err is, or wraps, a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// MessageOr returns the server supplied message carried by err, or fallback.
func MessageOr(err error, fallback string) string {
	var se *ServerError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	var ce *ConflictError
	if errors.As(err, &ce) && ce.Message != "" {
		return ce.Message
	}
	var ve *ValidationError
	if errors.As(err, &ve) && ve.Message != "" {
		return ve.Message
	}
	return fallback
}

// classifyValidation maps a failed validate call onto the taxonomy.
func classifyValidation(err error) error {
	var se *ServerError
	if !errors.As(err, &se) {
		return err
	}
	switch se.Status {
	case http.StatusBadRequest:
		return &ValidationError{Err: ErrMissingParams, Message: se.Message}
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return &ValidationError{Err: ErrInvalidToken, Message: se.Message}
	default:
		return err
	}
}
