// Package rmkerrors defines the kernel's error taxonomy. Callers use
// errors.Is against the sentinel Codes to branch on failure class instead of
// string-matching messages.
package rmkerrors

import (
	"errors"
	"fmt"
)

// Code classifies a kernel failure.
type Code string

const (
	InvalidInput     Code = "invalid_input"
	Unauthorized     Code = "unauthorized"
	Forbidden        Code = "forbidden"
	NotFound         Code = "not_found"
	Conflict         Code = "conflict"
	Overloaded       Code = "overloaded"
	StoreUnavailable Code = "store_unavailable"
	LLMUnavailable   Code = "llm_unavailable"
	Partial          Code = "partial"
	Internal         Code = "internal"
)

// Error wraps an underlying cause with a classification code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap classifies an existing error.
func Wrap(code Code, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the Code from err, defaulting to Internal when err does
// not carry one.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// Is reports whether err (or something it wraps) carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
