// Package errs defines the error taxonomy shared by every nxdoc package.
//
// All failures surfaced to callers are *Error values carrying a Code.
// Callers classify errors with the Is* helpers, which use errors.As and
// therefore see through fmt.Errorf("...: %w") wrapping.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code categorizes an Error.
type Code string

const (
	// CodeNotFound: unknown id, path or type (including obsolete types).
	CodeNotFound Code = "NOT_FOUND"

	// CodeSecurity: permission denied, lock ownership violation, or removal
	// of a version that is still referenced.
	CodeSecurity Code = "SECURITY_DENIED"

	// CodeParse: malformed NXQL, unresolved property path, DISTINCT/ORDER BY
	// conflicts, score without fulltext.
	CodeParse Code = "PARSE_ERROR"

	// CodeImmutable: write attempt on a version without the override flag.
	CodeImmutable Code = "IMMUTABLE"

	// CodeScrollTimeout: scroll cursor expired.
	CodeScrollTimeout Code = "SCROLL_TIMEOUT"

	// CodeScrollUnknown: scroll id never existed (or was exhausted).
	CodeScrollUnknown Code = "SCROLL_UNKNOWN"

	// CodeRollbackOnly: the session's transaction is marked rollback-only.
	CodeRollbackOnly Code = "ROLLBACK_ONLY"

	// CodeConflict: the operation is invalid for the document's current
	// state (already checked in, already checked out, name clash on a
	// placeless target, ...).
	CodeConflict Code = "CONFLICT"
)

// Error is the concrete error type returned by nxdoc packages.
type Error struct {
	Code    Code
	Message string

	// Details carries structured context (document id, offending clause...).
	Details map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e.Details[k])
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(parts, ", "))
}

// With returns a copy of e with an extra detail attached.
func (e *Error) With(key, value string) *Error {
	details := make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{Code: e.Code, Message: e.Message, Details: details}
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a CodeNotFound error.
func NotFound(format string, args ...any) *Error { return New(CodeNotFound, format, args...) }

// Security creates a CodeSecurity error.
func Security(format string, args ...any) *Error { return New(CodeSecurity, format, args...) }

// Parse creates a CodeParse error.
func Parse(format string, args ...any) *Error { return New(CodeParse, format, args...) }

// Immutable creates a CodeImmutable error.
func Immutable(format string, args ...any) *Error { return New(CodeImmutable, format, args...) }

// Conflict creates a CodeConflict error.
func Conflict(format string, args ...any) *Error { return New(CodeConflict, format, args...) }

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsNotFound reports whether err is a CodeNotFound error.
func IsNotFound(err error) bool { return Is(err, CodeNotFound) }

// IsSecurity reports whether err is a CodeSecurity error.
func IsSecurity(err error) bool { return Is(err, CodeSecurity) }

// IsParse reports whether err is a CodeParse error.
func IsParse(err error) bool { return Is(err, CodeParse) }

// IsImmutable reports whether err is a CodeImmutable error.
func IsImmutable(err error) bool { return Is(err, CodeImmutable) }

// IsScrollTimeout reports whether err is a CodeScrollTimeout error.
func IsScrollTimeout(err error) bool { return Is(err, CodeScrollTimeout) }

// IsScrollUnknown reports whether err is a CodeScrollUnknown error.
func IsScrollUnknown(err error) bool { return Is(err, CodeScrollUnknown) }

// IsRollbackOnly reports whether err is a CodeRollbackOnly error.
func IsRollbackOnly(err error) bool { return Is(err, CodeRollbackOnly) }

// IsConflict reports whether err is a CodeConflict error.
func IsConflict(err error) bool { return Is(err, CodeConflict) }
