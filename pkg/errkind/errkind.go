// Package errkind defines the typed error vocabulary shared by all CLADC
// components. Every error crossing a component boundary carries a Kind so
// callers can dispatch on failure class without string matching, and the
// Control API can report kinds verbatim.
package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy and API reporting.
type Kind string

// Error kinds. The coordinator recovers BusUnavailable, Timeout, and
// StepFailed locally; Fatal propagates to process shutdown.
const (
	// BusUnavailable is temporary — callers back off and retry.
	BusUnavailable Kind = "bus_unavailable"
	// Serialization is permanent for the offending payload — logged, dropped.
	Serialization Kind = "serialization"
	// Timeout means a step exceeded its deadline.
	Timeout Kind = "timeout"
	// Validation is a data-shape or business-rule violation.
	Validation Kind = "validation"
	// CapacityExceeded means a bounded structure overflowed beyond its
	// FIFO eviction policy. Should never surface when eviction is correct.
	CapacityExceeded Kind = "capacity_exceeded"
	// NotFound means a referenced id or name is missing.
	NotFound Kind = "not_found"
	// Conflict means an attempt to mutate a locked or terminal entity.
	Conflict Kind = "conflict"
	// StepFailed is an inner pipeline step failure; carries its cause.
	StepFailed Kind = "step_failed"
	// Fatal means a coordinator invariant is broken; the process should
	// exit after a best-effort snapshot.
	Fatal Kind = "fatal"
)

// Error is the typed error carried across component boundaries.
type Error struct {
	Kind      Kind
	Component string // originating component, e.g. "eventstore"
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a typed error without a cause.
func New(kind Kind, component, format string, args ...any) *Error {
	return &Error{Kind: kind, Component: component, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a typed error wrapping a cause.
func Wrap(kind Kind, component string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Component: component, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from an error chain. Untyped errors report
// the empty Kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsNotFound reports whether err carries the NotFound kind.
func IsNotFound(err error) bool { return IsKind(err, NotFound) }

// IsConflict reports whether err carries the Conflict kind.
func IsConflict(err error) bool { return IsKind(err, Conflict) }

// IsValidation reports whether err carries the Validation kind.
func IsValidation(err error) bool { return IsKind(err, Validation) }

// IsTimeout reports whether err carries the Timeout kind.
func IsTimeout(err error) bool { return IsKind(err, Timeout) }

// IsBusUnavailable reports whether err carries the BusUnavailable kind.
func IsBusUnavailable(err error) bool { return IsKind(err, BusUnavailable) }

// IsFatal reports whether err carries the Fatal kind.
func IsFatal(err error) bool { return IsKind(err, Fatal) }
