// Package domainerrors carries error kinds across layer boundaries.
//
// Services return *Error values (optionally wrapping a cause) so transports and
// callers can branch on Code without inspecting concrete types:
//
//	if dErrors.HasCode(err, dErrors.CodeForbidden) { ... }
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies the kind of failure.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeValidation         Code = "validation_error"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"

	// CodeSessionBinding marks a failed transaction-local session assignment.
	// Always fatal to the enclosing transaction.
	CodeSessionBinding Code = "session_binding_failed"
	// CodeAuditPublishing marks an audit entry that could not be persisted.
	CodeAuditPublishing Code = "audit_publishing_failed"
)

// Error is a coded error with an operator-safe message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying cause.
// A nil cause yields a plain coded error.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether any error in err's tree carries code. Joined errors
// (errors.Join) are searched branch by branch.
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	if de, ok := err.(*Error); ok && de.Code == code {
		return true
	}
	switch x := err.(type) {
	case interface{ Unwrap() error }:
		return HasCode(x.Unwrap(), code)
	case interface{ Unwrap() []error }:
		for _, e := range x.Unwrap() {
			if HasCode(e, code) {
				return true
			}
		}
	}
	return false
}

// CodeOf returns the outermost code in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Is reports whether err matches target (errors.Is shortcut for callers importing only this package).
func Is(err, target error) bool {
	return errors.Is(err, target)
}
