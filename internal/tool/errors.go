package tool

import (
	"context"
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned when a capability's breaker is open and calls
// short-circuit without contacting the provider.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrUnknownCapability is returned when no provider is registered for the
// requested capability.
var ErrUnknownCapability = errors.New("unknown capability")

// ErrorKind classifies a tool error for retry purposes.
type ErrorKind int

const (
	// KindTransient errors (timeout, 5xx, rate-limited) are retried.
	KindTransient ErrorKind = iota
	// KindPermanent errors (validation, other 4xx) fail immediately.
	KindPermanent
)

// Error is a classified failure from an external capability.
type Error struct {
	Capability string
	Op         Operation
	Kind       ErrorKind
	// Status is the provider status code when one exists (0 otherwise).
	Status int
	Err    error
}

func (e *Error) Error() string {
	kind := "transient"
	if e.Kind == KindPermanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s %s: %s error: %v", e.Capability, e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable tool error.
func Transient(capability string, op Operation, err error) *Error {
	return &Error{Capability: capability, Op: op, Kind: KindTransient, Err: err}
}

// Permanent wraps err as a non-retryable tool error.
func Permanent(capability string, op Operation, err error) *Error {
	return &Error{Capability: capability, Op: op, Kind: KindPermanent, Err: err}
}

// StatusError classifies err by provider status code: 5xx and 429 are
// transient, any other 4xx is permanent.
func StatusError(capability string, op Operation, status int, err error) *Error {
	kind := KindTransient
	if status >= 400 && status < 500 && status != 429 {
		kind = KindPermanent
	}
	return &Error{Capability: capability, Op: op, Kind: kind, Status: status, Err: err}
}

// IsTransient reports whether err should be retried. Deadline expiry counts
// as transient; unclassified errors default to transient so flaky transports
// get the benefit of the retry policy.
func IsTransient(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
