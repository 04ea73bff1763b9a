package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller: it decides whether the operation
// can be retried, whether the input must change, or whether the target is gone.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalid
	KindUnauthorized
	KindNotFound
	KindConflict
	KindTransient
	KindPermanent
)

// String returns a stable lowercase name for the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is the tagged error every public operation returns. Field is set for
// per-field validation failures so the caller can surface them next to the
// offending input.
type Error struct {
	Kind  Kind
	Field string
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Msg)
	}
	if e.cause != nil && e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Invalid reports a constraint violation on a named field.
func Invalid(field, msg string) error {
	return &Error{Kind: KindInvalid, Field: field, Msg: msg}
}

// Invalidf reports a constraint violation not tied to a single field.
func Invalidf(format string, args ...any) error {
	return &Error{Kind: KindInvalid, Msg: fmt.Sprintf(format, args...)}
}

// Unauthorized reports a rejected action.
func Unauthorized(msg string) error {
	return &Error{Kind: KindUnauthorized, Msg: msg}
}

// NotFound reports a missing entity.
func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Msg: msg}
}

// Conflict reports a uniqueness or version constraint failure.
func Conflict(msg string) error {
	return &Error{Kind: KindConflict, Msg: msg}
}

// Transient wraps a temporarily failing operation; the caller may retry.
func Transient(msg string, cause error) error {
	return &Error{Kind: KindTransient, Msg: msg, cause: cause}
}

// Permanent wraps a failure that retrying cannot fix (quota, corruption).
func Permanent(msg string, cause error) error {
	return &Error{Kind: KindPermanent, Msg: msg, cause: cause}
}

// KindOf extracts the kind from err, unwrapping as needed.
// Unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// FieldOf returns the field name attached to a validation error, if any.
func FieldOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Field
	}
	return ""
}

// IsRetryable reports whether the operation that produced err may be retried.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}
