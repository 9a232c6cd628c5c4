// Package errs provides the unified error type used across all of orma.
//
// Every subsystem (registry, query builder, pool, backends, migrations)
// wraps its native errors into *errs.Error before returning them to callers.
// Callers use the Is* predicates to handle errors without importing
// driver-specific packages.
//
// Usage:
//
//	// In a backend, wrap native errors:
//	return errs.Wrap(errs.ErrKindSQLExecution, "insert failed", pgErr).WithCode(pgErr.Code)
//
//	// In a caller, check the error kind:
//	if errs.IsPoolExhausted(err) {
//	    // shed load, nothing was sent to the database
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
type ErrKind int

const (
	ErrKindUnknown           ErrKind = iota
	ErrKindNotFound                  // no rows, no object, no migration file
	ErrKindConnectionFailed          // cannot reach or authenticate to the backend
	ErrKindTimeout                   // context deadline / cancellation
	ErrKindPoolExhausted             // no lease granted within the acquire timeout
	ErrKindQueryBuild                // invalid field / relation reference, bad pagination
	ErrKindSQLExecution              // backend rejected a statement
	ErrKindDuplicateModel            // registry already holds the model or table
	ErrKindUnknownModel              // registry has no such model
	ErrKindMigrationConflict         // two migrations claim one ordering slot, or drifted checksums
	ErrKindMigrationApply            // DDL failed while applying or rolling back a migration
	ErrKindInvalidInput              // bad arguments from the caller
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindPoolExhausted:
		return "pool_exhausted"
	case ErrKindQueryBuild:
		return "query_build"
	case ErrKindSQLExecution:
		return "sql_execution"
	case ErrKindDuplicateModel:
		return "duplicate_model"
	case ErrKindUnknownModel:
		return "unknown_model"
	case ErrKindMigrationConflict:
		return "migration_conflict"
	case ErrKindMigrationApply:
		return "migration_apply"
	case ErrKindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all orma subsystems.
type Error struct {
	Kind    ErrKind
	Message string

	// Code is the backend error code (SQLSTATE, MySQL error number), if any.
	Code string

	// Op names the failing operation, e.g. the migration step that broke.
	Op string

	// Partial is set when a migration was left partially applied and needs
	// an operator. Everything else means nothing happened.
	Partial bool

	Cause error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s (op: %s)", msg, e.Op)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s [code %s]", msg, e.Code)
	}
	if e.Partial {
		msg += " [partially applied]"
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCode returns a copy of e carrying the backend error code.
func (e *Error) WithCode(code string) *Error {
	c := *e
	c.Code = code
	return &c
}

// WithOp returns a copy of e naming the failing operation.
func (e *Error) WithOp(op string) *Error {
	c := *e
	c.Op = op
	return &c
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a format string.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsNotFound reports whether err represents a "not found" result.
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

// IsPoolExhausted reports whether no connection could be leased in time.
func IsPoolExhausted(err error) bool {
	return KindOf(err) == ErrKindPoolExhausted
}

// IsQueryBuild reports whether err was raised while building a query.
func IsQueryBuild(err error) bool {
	return KindOf(err) == ErrKindQueryBuild
}

// IsSQLExecution reports whether the backend rejected a statement.
func IsSQLExecution(err error) bool {
	return KindOf(err) == ErrKindSQLExecution
}

// IsDuplicateModel reports whether a model or table was registered twice.
func IsDuplicateModel(err error) bool {
	return KindOf(err) == ErrKindDuplicateModel
}

// IsUnknownModel reports whether a model lookup missed.
func IsUnknownModel(err error) bool {
	return KindOf(err) == ErrKindUnknownModel
}

// IsMigrationConflict reports whether migrations disagree about ordering or content.
func IsMigrationConflict(err error) bool {
	return KindOf(err) == ErrKindMigrationConflict
}

// IsMigrationApply reports whether applying or rolling back a migration failed.
func IsMigrationApply(err error) bool {
	return KindOf(err) == ErrKindMigrationApply
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// IsPartial reports whether err left a migration partially applied.
func IsPartial(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Partial
}

// IsRetryable reports whether nothing happened and the call may be retried.
// Build errors are excluded: retrying them cannot succeed.
func IsRetryable(err error) bool {
	if err == nil || IsPartial(err) {
		return false
	}
	switch KindOf(err) {
	case ErrKindConnectionFailed, ErrKindPoolExhausted, ErrKindTimeout:
		return true
	}
	return false
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
