// Package apperr defines the coded errors surfaced to API clients and alerts.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine facing error class
type Code string

const (
	CodeUnknown        Code = "INTERNAL_ERROR"
	CodeInvalidInput   Code = "INVALID_INPUT"
	CodeNotFound       Code = "NOT_FOUND"
	CodeNotReady       Code = "NOT_READY"
	CodeStorageFailure Code = "STORAGE_FAILURE"
	CodeTimeout        Code = "SCAN_TIMEOUT"
	CodeCancelled      Code = "CANCELLED"

	// CodeAlreadyTerminal rejects an operation on a scan that has finished
	CodeAlreadyTerminal Code = "ALREADY_TERMINAL"
)

// HTTPStatus maps a code onto the status returned by the API
func HTTPStatus(c Code) int {
	switch c {
	case CodeInvalidInput, CodeAlreadyTerminal:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeNotReady, CodeCancelled:
		return http.StatusConflict
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a code, a client facing message and the wrapped cause
type Error struct {
	Code Code
	Msg  string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error without a cause
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Newf is New with formatting
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and operation label to err. A nil err stays nil.
func Wrap(err error, code Code, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Msg: op, Op: op, Err: err}
}

// CodeOf extracts the code from err. Context errors map onto Timeout and Cancelled.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	}
	return CodeUnknown
}

// Is reports whether err carries code
func Is(err error, code Code) bool { return CodeOf(err) == code }

// Message returns the client facing message of err
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}
