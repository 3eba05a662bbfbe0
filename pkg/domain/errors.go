package domain

import (
	"errors"
	"fmt"
)

// Code is the machine-readable classification of a control-plane failure.
type Code string

const (
	CodeProjectNotFound   Code = "PROJECT_NOT_FOUND"
	CodeProjectExists     Code = "PROJECT_EXISTS"
	CodeInvalidPath       Code = "INVALID_PATH"
	CodePortExhausted     Code = "PORT_EXHAUSTED"
	CodePortInUse         Code = "PORT_IN_USE"
	CodeSupervisorError   Code = "SUPERVISOR_ERROR"
	CodeServiceNotRunning Code = "SERVICE_NOT_RUNNING"
	CodeConfigError       Code = "CONFIG_ERROR"
)

// Error is a coded control-plane error. Hints carry concrete remediation
// steps that are safe to show to an operator or an agent.
type Error struct {
	Code    Code
	Message string
	Hints   []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so
// errors.Is(err, domain.ErrPortExhausted) works regardless of message.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// Sentinels for errors.Is checks. Real failures are built with Errf or
// Wrap and carry specific messages; these match by code.
var (
	ErrProjectNotFound   = &Error{Code: CodeProjectNotFound, Message: "project not found"}
	ErrProjectExists     = &Error{Code: CodeProjectExists, Message: "project already exists"}
	ErrInvalidPath       = &Error{Code: CodeInvalidPath, Message: "invalid project path"}
	ErrPortExhausted     = &Error{Code: CodePortExhausted, Message: "no available ports in range"}
	ErrPortInUse         = &Error{Code: CodePortInUse, Message: "port already in use"}
	ErrSupervisor        = &Error{Code: CodeSupervisorError, Message: "supervisor operation failed"}
	ErrServiceNotRunning = &Error{Code: CodeServiceNotRunning, Message: "service is not running"}
	ErrConfig            = &Error{Code: CodeConfigError, Message: "persisted store is malformed or unreadable"}
)

// Errf builds a coded error with a formatted message.
func Errf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a coded error around an underlying cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithHints attaches remediation suggestions and returns the error.
func (e *Error) WithHints(hints ...string) *Error {
	e.Hints = append(e.Hints, hints...)
	return e
}

// CodeOf extracts the machine code from any error chain, or "" if the
// error is not a coded one.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// HintsOf extracts remediation hints from an error chain.
func HintsOf(err error) []string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Hints
	}
	return nil
}
