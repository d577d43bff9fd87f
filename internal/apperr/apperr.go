// Package apperr defines the error taxonomy shared across the sage services.
//
// Every fatal error carries a stable Kind plus a human-readable message.
// Callers branch on the kind with KindOf (or errors.As for the full value);
// the HTTP layer maps kinds to status codes in one place.
//
// Error Handling:
//   - Wrap lower-level causes with Wrap so errors.Is/errors.As keep working
//   - Kinds are part of the API surface: renaming one is a breaking change
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies a category of failure.
type Kind string

const (
	// KindValidation is malformed or out-of-range caller input.
	KindValidation Kind = "validation_error"

	// KindNotFound is a missing knowledge base, document, quiz, or question.
	KindNotFound Kind = "not_found"

	// KindPermissionDenied is a private knowledge base accessed by a non-owner.
	KindPermissionDenied Kind = "permission_denied"

	// KindStateConflict is an operation invalid for the current lifecycle state.
	KindStateConflict Kind = "state_conflict"

	// KindEmptyDocument is an ingested document that yields no text blocks.
	KindEmptyDocument Kind = "empty_document"

	// KindUnsupportedFormat is an ingested file with an unknown extension.
	KindUnsupportedFormat Kind = "unsupported_format"

	// KindInsufficientContent means sampling/generation could not meet the
	// required question count.
	KindInsufficientContent Kind = "insufficient_content"

	// KindEmbeddingUnavailable is an embedding-capability failure that cannot
	// be degraded (query-time embedding).
	KindEmbeddingUnavailable Kind = "embedding_unavailable"

	// KindGradingFailed is an unparseable grading response.
	KindGradingFailed Kind = "grading_failed"

	// KindSummaryFailed is a summary-synthesis failure with nothing to persist.
	KindSummaryFailed Kind = "summary_failed"

	// KindInternal is everything unexpected.
	KindInternal Kind = "internal_error"
)

// Error is a kinded error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// New creates a kinded error with the given message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a kinded error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
// A nil cause returns nil so call sites can wrap unconditionally.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from err. Unkinded errors report KindInternal,
// nil reports an empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the human-readable message for err without the kind prefix.
// Falls back to err.Error() for unkinded errors.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}
