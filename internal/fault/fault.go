// Package fault enumerates the error kinds the Alpha runtime distinguishes.
// Every failure that crosses a component boundary is wrapped in an *Error so
// callers can branch on Kind without string matching.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a runtime failure.
type Kind int

const (
	// Unknown is the zero value for errors that carry no kind.
	Unknown Kind = iota

	// SafetyDenied means the Safety Gate refused the action.
	SafetyDenied

	// LLMUnavailable means the availability probe failed or no usable model
	// is present on the endpoint.
	LLMUnavailable

	// LLMTimeout means the per-call deadline elapsed.
	LLMTimeout

	// LLMProtocolError means the endpoint answered with a non-200 status or
	// an empty body.
	LLMProtocolError

	// SourceUnavailable means the external knowledge source could not be
	// reached or returned garbage.
	SourceUnavailable

	// StorageError covers SQL and filesystem failures.
	StorageError
)

// String returns the identifier used in logs.
func (k Kind) String() string {
	switch k {
	case SafetyDenied:
		return "safety_denied"
	case LLMUnavailable:
		return "llm_unavailable"
	case LLMTimeout:
		return "llm_timeout"
	case LLMProtocolError:
		return "llm_protocol_error"
	case SourceUnavailable:
		return "source_unavailable"
	case StorageError:
		return "storage_error"
	default:
		return "unknown"
	}
}

// Error is a classified runtime error.
type Error struct {
	Kind Kind
	Op   string // component operation, e.g. "llm.generate"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf creates a classified error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf walks the error chain and returns the first classified kind.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
