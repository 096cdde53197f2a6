// Package apperr classifies failures so transports can map them to responses.
package apperr

import "errors"

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	// KindUnavailable marks external-dependency failures; callers may retry.
	KindUnavailable
	// KindIntegrity marks authenticity failures such as signature mismatches.
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_failed"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "dependency_unavailable"
	case KindIntegrity:
		return "integrity_failed"
	default:
		return "internal_error"
	}
}

// Error is a classified error. Package-level sentinels are *Error values, so
// errors.Is matches them through any fmt.Errorf("%w") wrapping.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string) *Error { return &Error{Kind: KindValidation, Msg: msg} }

func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Msg: msg} }

func Conflict(msg string) *Error { return &Error{Kind: KindConflict, Msg: msg} }

func Integrity(msg string) *Error { return &Error{Kind: KindIntegrity, Msg: msg} }

// Unavailable wraps a dependency failure as retryable.
func Unavailable(msg string, err error) *Error {
	return &Error{Kind: KindUnavailable, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain, or
// KindInternal when none is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the description of the outermost classified error.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

// Retryable reports whether the caller may retry the same request.
func Retryable(err error) bool {
	return KindOf(err) == KindUnavailable
}
