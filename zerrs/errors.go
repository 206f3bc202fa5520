// Package zerrs defines the structured error kinds carried on run records
// and returned across handler/engine/queue boundaries. Run failures the
// engine reports are *Error values, so the worker can decide whether to
// retry without inspecting message strings; a plain error (such as a run
// store failure returned by engine.Execute) is treated as retryable by
// Retryable.
package zerrs

import "fmt"

// Kind is one of the error kinds enumerated in the system's error handling
// design. It determines whether the queue retries the run.
type Kind string

const (
	GraphInvalid           Kind = "graph_invalid"
	GraphMissing           Kind = "graph_missing"
	UnknownBlock           Kind = "unknown_block"
	InsufficientCredits    Kind = "insufficient_credits"
	CreditExhausted        Kind = "credit_exhausted"
	ConfigInvalid          Kind = "config_invalid"
	HandlerTransient       Kind = "handler_transient"
	HandlerPermanent       Kind = "handler_permanent"
	ExternalUnauthenticated Kind = "external_unauthenticated"
)

// fatalKinds are never retried by the queue regardless of attempts
// remaining; spec.md §4.1 "Failure semantics" and §7.
var fatalKinds = map[Kind]bool{
	GraphInvalid:            true,
	GraphMissing:            true,
	UnknownBlock:            true,
	InsufficientCredits:     true,
	CreditExhausted:         true,
	ConfigInvalid:           true,
	HandlerPermanent:        true,
	ExternalUnauthenticated: true,
}

// Error is the structured error type returned by handlers, the engine and
// the queue. NodeID is empty for run-level (pre-dispatch) failures.
type Error struct {
	Kind    Kind
	Message string
	NodeID  string
	Cause   error
}

func (e *Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: %s (node %s)", e.Kind, e.Message, e.NodeID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the queue should requeue the job that produced
// this error with backoff, per spec.md §4.1/§7.
func (e *Error) Retryable() bool {
	return !fatalKinds[e.Kind]
}

// New builds a structured error of the given kind; whether the queue
// retries it follows from the kind (see Retryable).
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind/message context to an underlying cause, preserving it
// for %w-style unwrapping while still exposing Retryable().
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithNode returns a copy of e annotated with the node id that produced it.
func (e *Error) WithNode(nodeID string) *Error {
	cp := *e
	cp.NodeID = nodeID
	return &cp
}

// As reports whether err is a *Error, unwrapping standard wrap chains.
func As(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	if ze, ok := err.(*Error); ok {
		return ze, true
	}
	type unwrapper interface{ Unwrap() error }
	for u, ok := err.(unwrapper); ok; u, ok = err.(unwrapper) {
		err = u.Unwrap()
		if ze, ok := err.(*Error); ok {
			return ze, true
		}
	}
	return nil, false
}

// Retryable reports whether err should be retried by the queue. A non-zerrs
// error (e.g. a raw network error bubbled up unwrapped) defaults to
// retryable, matching spec.md's "all others are retryable" default.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if ze, ok := As(err); ok {
		return ze.Retryable()
	}
	return true
}
