// Package coreerrors defines the discriminated error kinds shared across
// the parser, indexes, retriever, and evaluator, replacing ad-hoc error
// strings with a small typed vocabulary the composition root can switch on.
package coreerrors

import (
	"errors"
	"fmt"
)

// Kind identifies the category of failure behind an Error.
type Kind string

const (
	// NotFound means a file, collection, or dataset is missing. Surfaced
	// to the caller; never retried.
	NotFound Kind = "not_found"
	// ParseError means malformed input with no recoverable structure.
	// Surfaced; the offending file is skipped in a batch.
	ParseError Kind = "parse_error"
	// EmbedderUnavailable means the embedding backend rejected or failed
	// a request. Transient; Retry/RetryWithResult treat this Kind as
	// worth another attempt with exponential backoff.
	EmbedderUnavailable Kind = "embedder_unavailable"
	// VectorStoreUnavailable means the vector index backend rejected or
	// failed a request. Transient; Retry/RetryWithResult treat this Kind
	// as worth another attempt with exponential backoff.
	VectorStoreUnavailable Kind = "vector_store_unavailable"
	// PartiallyIndexed means a dual-write left one index ahead of the
	// other for a file. Surfaced with enough context to retry with
	// force_update.
	PartiallyIndexed Kind = "partially_indexed"
	// RetrievalError means both branches of a hybrid search failed.
	RetrievalError Kind = "retrieval_error"
	// InvalidOptions means caller-supplied options fail validation
	// (weights not summing to 1.0, k <= 0, etc). Fast-fail before work.
	InvalidOptions Kind = "invalid_options"
	// Timeout means a per-call deadline was exceeded. Treated as
	// transient by callers that retry.
	Timeout Kind = "timeout"
)

// Error is a typed, wrapped error carrying a Kind alongside the usual
// error chain so callers can branch on category without string matching.
type Error struct {
	Kind Kind
	Op   string
	Err  error
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

// New builds an Error with no wrapped cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap attaches a Kind and operation name to an existing error. Returns
// nil if err is nil, so call sites can use it unconditionally.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err's Kind matches kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
