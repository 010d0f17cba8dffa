package domain

import (
	"errors"
	"fmt"
)

// Generic messages returned instead of store internals.
const (
	DatabaseErrorMessage = "Database Error"
	InternalErrorMessage = "Internal Server Error"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// StatusError is the structured (message, success=false, code) signal every
// anticipated failure is raised as. The dispatch boundary returns it to the
// client unchanged; anything else is replaced with a generic message.
type StatusError struct {
	Code    int
	Message string
	cause   error
}

func (e *StatusError) Error() string {
	return e.Message
}

func (e *StatusError) Unwrap() error {
	return e.cause
}

func Invalid(format string, args ...any) *StatusError {
	return &StatusError{Code: 400, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(message string) *StatusError {
	return &StatusError{Code: 401, Message: message}
}

func Forbidden(message string) *StatusError {
	return &StatusError{Code: 403, Message: message}
}

func PageNotFound(message string) *StatusError {
	return &StatusError{Code: 404, Message: message}
}

// DatabaseError wraps a store failure. The original error stays reachable via
// errors.Unwrap for logging but is never shown to the client.
func DatabaseError(cause error) *StatusError {
	return &StatusError{Code: 500, Message: DatabaseErrorMessage, cause: cause}
}
