package errs

import (
	"errors"
	"fmt"
)

// Business failure categories. Callers branch with errors.Is; concrete
// messages are attached at the wrap site.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidState       = errors.New("invalid state")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrReservationExpired = errors.New("reservation expired")
	ErrUpstream           = errors.New("upstream failure")
)

// NotFound wraps ErrNotFound with the entity kind and id.
func NotFound(kind string, id interface{}) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, kind, id)
}

// InvalidInput wraps ErrInvalidInput with a reason.
func InvalidInput(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}

// InvalidState wraps ErrInvalidState with the operation and current status.
func InvalidState(op, status string) error {
	return fmt.Errorf("%w: cannot %s in status %q", ErrInvalidState, op, status)
}

// Upstream wraps ErrUpstream with the failing call and its cause.
func Upstream(call string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstream, call, cause)
}
