package iomanager

import (
	"github.com/pkg/errors"
)

// Kind classifies an engine error the way spec.md §7 taxonomizes them —
// by condition, not by Go type.
type Kind int

const (
	// KindFailure covers any filesystem operation that failed outright:
	// seek, short read/write, truncate, create.
	KindFailure Kind = iota
	// KindNotInitialized: engine not started, shutting down, or the
	// call targeted an already-closed handle.
	KindNotInitialized
	// KindNotAvailable: entry does not exist, or the live handle for a
	// key is doomed.
	KindNotAvailable
	// KindInvalidArgument: malformed hex key, unknown enumerate mode,
	// unrecognized flag combination.
	KindInvalidArgument
	// KindInvalidPath: the cache root is not set.
	KindInvalidPath
	// KindOutOfMemory: registry initialization failed.
	KindOutOfMemory
	// KindFileNotFound: rename-during-doom or open-existing found
	// nothing; often absorbed internally rather than surfaced.
	KindFileNotFound
)

func (k Kind) String() string {
	switch k {
	case KindNotInitialized:
		return "NotInitialized"
	case KindNotAvailable:
		return "NotAvailable"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindInvalidPath:
		return "InvalidPath"
	case KindOutOfMemory:
		return "OutOfMemory"
	case KindFileNotFound:
		return "FileNotFound"
	default:
		return "Failure"
	}
}

// Error pairs a Kind with a wrapped cause so the originating filesystem
// error survives the worker/caller boundary for logging. The package's
// Is compares only the Kind; Unwrap still exposes the cause to the
// standard errors.Is/As.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.cause.Error()
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.cause
}

// NewError builds an *Error of the given kind, optionally wrapping cause.
func NewError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, cause: cause}
}

// Wrapf builds a KindFailure error wrapping a formatted message around
// cause, matching the teacher's errors.Wrapf idiom.
func Wrapf(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindFailure, cause: errors.Wrapf(cause, format, args...)}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
