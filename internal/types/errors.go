package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies backend failures.
type ErrorKind string

// Failure kinds. Only KindValidation exposes its detail to the UI.
const (
	KindPathSecurity ErrorKind = "path_security" // Path resolves outside the sandbox
	KindValidation   ErrorKind = "validation"    // Identifier fails its charset check
	KindIO           ErrorKind = "io"            // Filesystem create/read/write/canonicalize failure
	KindNotFound     ErrorKind = "not_found"     // No binaries directory or no matching file
	KindProcessSpawn ErrorKind = "process_spawn" // External process could not start
	KindProcessExit  ErrorKind = "process_exit"  // External process exited nonzero
)

// Generic messages returned across the UI boundary.
const (
	MsgInvalidPath  = "Invalid path"
	MsgInvalidInput = "Invalid input path"
	MsgExportFailed = "Export failed. See logs."
	MsgIOFailed     = "File operation failed. See logs."
	MsgNotFound     = "Not found"
)

// Error is a classified backend failure.
// Detail and Trail carry full diagnostics; Public is safe to show the user.
type Error struct {
	Kind   ErrorKind
	Op     string
	Detail string
	Public string
	Trail  []string
	Err    error
}

// Error implements the error interface with full internal detail.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error with the default public message for kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Public: defaultPublic(kind), Err: err}
}

// Validation creates a validation error whose reason is shown to the user.
func Validation(op, field, reason string) *Error {
	detail := fmt.Sprintf("%s %s", field, reason)
	return &Error{Kind: KindValidation, Op: op, Detail: detail, Public: detail}
}

// WithPublic returns a copy of e with a different public message.
func (e *Error) WithPublic(msg string) *Error {
	c := *e
	c.Public = msg
	return &c
}

// WithDetail returns a copy of e with additional internal detail.
func (e *Error) WithDetail(format string, args ...any) *Error {
	c := *e
	c.Detail = fmt.Sprintf(format, args...)
	return &c
}

func defaultPublic(kind ErrorKind) string {
	switch kind {
	case KindPathSecurity:
		return MsgInvalidPath
	case KindNotFound:
		return MsgNotFound
	case KindProcessSpawn, KindProcessExit:
		return MsgExportFailed
	default:
		return MsgIOFailed
	}
}

// KindOf returns the kind of a classified error, or KindIO for anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIO
}

// IsKind reports whether err is a classified error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// PublicMessage returns the message that may cross the UI boundary.
// Unclassified errors never leak their text.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Public != "" {
		return e.Public
	}
	return MsgIOFailed
}

// TrailOf returns the diagnostic trail attached to err, if any.
func TrailOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Trail
	}
	return nil
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`   // JSON name of the field (e.g., "session_id")
	Message string `json:"message"` // Human-readable error message
	Value   any    `json:"value"`   // The invalid value that was provided
}

// ValidationError collects multiple field validation errors.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

// NewValidationError creates a new empty ValidationError.
func NewValidationError() *ValidationError {
	return &ValidationError{
		Errors: make([]FieldError, 0),
	}
}

// Add adds a field error to the collection.
func (v *ValidationError) Add(field, message string, value any) {
	v.Errors = append(v.Errors, FieldError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}
