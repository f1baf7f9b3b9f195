// Package harnesserr defines the error kinds shared across the harness
// (spec §7) and helpers for classifying and wrapping them.
package harnesserr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of an error for retry/propagation
// decisions.
type Kind string

const (
	// Transport covers network-level failures talking to a ModelClient.
	Transport Kind = "transport"
	// RateLimited covers 429-style responses; retryable with backoff.
	RateLimited Kind = "rate_limited"
	// InvalidResponse covers responses that fail to parse.
	InvalidResponse Kind = "invalid_response"
	// Timeout covers a batch or syntax check exceeding its deadline.
	Timeout Kind = "timeout"
	// Cancelled covers cooperative cancellation, non-retryable and terminal.
	Cancelled Kind = "cancelled"
	// BadRequest covers non-retryable 4xx (except 429) responses.
	BadRequest Kind = "bad_request"
	// StorePersist covers artifact persistence failures; fails the Run.
	StorePersist Kind = "store_persist"
	// CompileCheck covers a hard compile/syntax-check failure; scored, not aborted.
	CompileCheck Kind = "compile_check"
	// Config covers invalid RunRequest parameters rejected at Submit.
	Config Kind = "config"
)

// Error wraps an underlying cause with a Kind so callers can classify
// it with errors.As without string matching.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap supports errors.Is/errors.As against the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a classified error around an existing cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is
// a *Error; otherwise returns "" and false.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Retryable reports whether a batch should retry after this error, per
// the classification table in spec §4.2/§7: Transport, RateLimited,
// InvalidResponse, and Timeout are retryable; Cancelled and BadRequest
// are not.
func Retryable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		// Unclassified errors are treated as transport-level hiccups.
		return true
	}
	switch kind {
	case Transport, RateLimited, InvalidResponse, Timeout:
		return true
	default:
		return false
	}
}
