package service

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the service layer. Collaborator errors are
// translated into one of these before they leave the package.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrRejected            = errors.New("payment rejected")
	ErrServiceUnavailable  = errors.New("service unavailable")
	ErrRoomUnavailable     = errors.New("room unavailable")
	ErrRoomNotFound        = errors.New("room not found")
	ErrNotFound            = errors.New("not found")
	ErrRecordingFailed     = errors.New("recording failed")
	ErrIdempotencyConflict = errors.New("request in progress")
	ErrIdempotencyMismatch = errors.New("key reuse with mismatched payload")
)

// Error carries a stable kind plus a human-readable reason.
type Error struct {
	Kind   error
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func newError(kind error, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Retryable reports whether resubmitting the same request may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrRecordingFailed)
}

// Reason returns the human-readable part of err, or its text.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	return err.Error()
}
