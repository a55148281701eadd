package core

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the chat service.
type Kind string

const (
	ConfigurationMissing    Kind = "configuration_missing"     // Agent lacks the config block its backend needs
	BackendUnreachable      Kind = "backend_unreachable"       // Transport failure, timeout or open circuit
	BackendRejected         Kind = "backend_rejected"          // Backend answered with a non-2xx status
	MalformedBackendPayload Kind = "malformed_backend_payload" // Backend body could not be decoded
	ToolArgumentUnparseable Kind = "tool_argument_unparseable" // Tool call arguments were not valid JSON
	IterationBudgetExceeded Kind = "iteration_budget_exceeded" // Tool loop hit the round cap
)

// Error is the error type returned by SendMessage and the backend client.
type Error struct {
	Kind    Kind
	Backend string // Backend kind or host that produced the error, if any
	Status  int    // HTTP status for BackendRejected
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Backend != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Backend)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, backend string, err error) *Error {
	return &Error{Kind: kind, Backend: backend, Err: err}
}

// IsKind reports whether err, or any error it wraps, is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind carried by err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
