// Package domainerrors carries caller-correctable error codes across layers.
//
// Services return *Error values; transports map Code to a status without
// inspecting messages. Stores never construct these: they return facts from
// pkg/platform/sentinel and services translate.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies an error kind. Values are part of the HTTP contract.
type Code string

const (
	// Certification lifecycle
	CodeNotReady          Code = "not_ready"
	CodeNotesRequired     Code = "notes_required"
	CodeInvalidTransition Code = "invalid_transition"

	// Capacity
	CodeIneligible       Code = "ineligible"
	CodeCapacityExceeded Code = "capacity_exceeded"

	// Ledger
	CodeOutOfOrder    Code = "out_of_order"
	CodeDuplicateStep Code = "duplicate_step"

	// Certificates
	CodeNotAllStepsVerified Code = "not_all_steps_verified"
	CodeAlreadyIssued       Code = "already_issued"

	// Generic
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeBadRequest         Code = "bad_request"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeUnavailable        Code = "unavailable"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"
)

// Error is a coded error with an optional cause.
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

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to err. A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the outermost code in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the outermost coded error in err's chain has code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is shorthand for HasCode, kept for call sites that read better with it.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}
