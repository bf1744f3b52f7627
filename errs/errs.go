// Package errs implements the typed error taxonomy shared by every RAQE
// component. Callers switch on Kind rather than matching error strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one of the named error categories a component may raise.
type Kind string

const (
	InvalidInput       Kind = "invalid_input"
	Configuration      Kind = "configuration"
	InjectionDefense   Kind = "injection_defense"
	Embedding          Kind = "embedding"
	GraphWrite         Kind = "graph_write"
	VectorWrite        Kind = "vector_write"
	DataConsistency    Kind = "data_consistency"
	QueryGeneration    Kind = "query_generation"
	QueryValidation    Kind = "query_validation"
	UnsafeQuery        Kind = "unsafe_query"
	QueryExecution     Kind = "query_execution"
	QueryTimeout       Kind = "query_timeout"
	ReadOnlyViolation  Kind = "read_only_violation"
	CircuitOpen        Kind = "circuit_open"
)

// Error is the single error type returned by every public RAQE operation.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, errs.New(errs.QueryTimeout, "")).
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Of reports the Kind of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
