// Package errs provides the unified error types used across csvingest.
//
// Backend subsystems (database drivers, filestore) wrap their native errors
// into *errs.Error before returning them. Pipeline stages report fatal
// conditions as *errs.StageError, which names the stage, a stable code and
// the offending input.
//
// Usage:
//
//	// In a driver, wrap native errors:
//	return errs.Wrap(errs.ErrKindTimeout, "statement timed out", pgErr)
//
//	// In the loader, decide whether a chunk may be retried:
//	if errs.IsTransient(err) {
//	    ...
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing backend-specific codes.
// All backends (Postgres, MySQL, SQLite, SQL Server, MinIO) map their native
// errors to one of these kinds.
type ErrKind int

const (
	ErrKindUnknown             ErrKind = iota
	ErrKindNotFound                    // no rows, no object, no bucket
	ErrKindConnectionFailed            // cannot reach the backend, or the connection dropped
	ErrKindTimeout                     // context deadline / cancellation, lock wait
	ErrKindQueryFailed                 // SQL or storage operation error
	ErrKindInvalidInput                // bad arguments from the caller
	ErrKindPermissionDenied            // access denied / auth failure
	ErrKindConflict                    // object already exists (table, bucket)
	ErrKindConstraintViolation         // unique, primary key, foreign key, not-null or check violation
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindConflict:
		return "conflict"
	case ErrKindConstraintViolation:
		return "constraint_violation"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by backend subsystems.
// Drivers produce it; callers inspect it via the Is* predicates below.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Newf is New with a format string.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// --- Predicates ---

// IsNotFound reports whether err represents a "not found" result
// (no rows, missing object, unknown table/bucket, …).
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a backend operation failure
// (SQL execution error, storage I/O error, …).
func IsQueryFailed(err error) bool {
	return KindOf(err) == ErrKindQueryFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return KindOf(err) == ErrKindPermissionDenied
}

// IsConflict reports whether err means the target object already exists.
func IsConflict(err error) bool {
	return KindOf(err) == ErrKindConflict
}

// IsConstraintViolation reports whether err is a row-level integrity violation.
func IsConstraintViolation(err error) bool {
	return KindOf(err) == ErrKindConstraintViolation
}

// IsTransient reports whether retrying the same operation may succeed.
// Timeouts and dropped connections are transient; everything else is not.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case ErrKindTimeout, ErrKindConnectionFailed:
		return true
	default:
		return false
	}
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
