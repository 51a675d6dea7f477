package service

import (
	"errors"
	"net/http"

	"github.com/zbimage/captiond/internal/store"
)

// Code identifies the class of a request failure.
type Code string

const (
	// Client errors
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeNotFound     Code = "NOT_FOUND"

	// Collaborator errors
	CodeUpstreamFailure Code = "UPSTREAM_FAILURE"

	// Cache errors
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
	CodeCorrupt          Code = "CORRUPT"
)

// Sentinels for errors.Is. Any *Error matches the sentinel with the same code.
var (
	ErrUnauthorized     = &Error{Code: CodeUnauthorized, Message: "Unauthorized"}
	ErrInvalidInput     = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrNotFound         = &Error{Code: CodeNotFound, Message: "not found"}
	ErrUpstreamFailure  = &Error{Code: CodeUpstreamFailure, Message: "upstream failure"}
	ErrStoreUnavailable = &Error{Code: CodeStoreUnavailable, Message: "store unavailable"}
	ErrCorrupt          = &Error{Code: CodeCorrupt, Message: "corrupt cache entry"}
)

// Error is a request failure with a code and a message fit for clients.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// NewError creates an error with the given code.
func NewError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// HTTPStatus maps the code to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether the failure was caused by the request itself.
func (e *Error) IsClientError() bool {
	switch e.Code {
	case CodeUnauthorized, CodeInvalidInput, CodeNotFound:
		return true
	default:
		return false
	}
}

// AsError extracts an *Error from err, classifying anything else as an
// upstream failure.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(CodeUpstreamFailure, "internal error", err)
}

// storeError classifies a result store failure. Store errors never reach
// clients; the request degrades to an uncached result instead.
func storeError(err error) *Error {
	if errors.Is(err, store.ErrCorrupt) {
		return NewError(CodeCorrupt, "corrupt cache entry", err)
	}
	return NewError(CodeStoreUnavailable, "store unavailable", err)
}
