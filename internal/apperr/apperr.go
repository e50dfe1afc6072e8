// Package apperr carries the coded error taxonomy shared by the command layer,
// the HTTP surface and the Go client. Errors are classified by Code, never by
// Go type, so a code survives a round trip over the wire.
package apperr

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnauthorized   Code = "unauthorized"
	CodeForbidden      Code = "forbidden"
	CodeInvalidStatus  Code = "invalid_status"
	CodeInvalidPayload Code = "invalid_payload"
	CodeRoomNotFound   Code = "room_not_found"
	CodeNoPlayers      Code = "no_players"
	CodeRateLimited    Code = "rate_limited"
	CodeClientOutdated Code = "client_outdated"
	CodeRoomOutdated   Code = "room_outdated"
	// CodeUnknown is a version mismatch whose direction could not be determined.
	CodeUnknown  Code = "unknown"
	CodeInternal Code = "internal"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded error around cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels usable with errors.Is.
var (
	ErrUnauthorized   = New(CodeUnauthorized, "")
	ErrForbidden      = New(CodeForbidden, "")
	ErrInvalidStatus  = New(CodeInvalidStatus, "")
	ErrInvalidPayload = New(CodeInvalidPayload, "")
	ErrRoomNotFound   = New(CodeRoomNotFound, "")
	ErrNoPlayers      = New(CodeNoPlayers, "")
	ErrRateLimited    = New(CodeRateLimited, "")
)

// CodeOf extracts the code of err. Uncoded errors are internal; nil has no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Retryable reports whether a caller should retry automatically after a
// short delay. Authorization and version problems need user action instead.
func Retryable(code Code) bool {
	switch code {
	case CodeInvalidStatus, CodeRateLimited, CodeInternal:
		return true
	default:
		return false
	}
}

// IsVersionMismatch reports whether code is one of the version gating codes.
func IsVersionMismatch(code Code) bool {
	return code == CodeClientOutdated || code == CodeRoomOutdated || code == CodeUnknown
}

// HTTPStatus maps a code to the HTTP status used by the command surface.
func HTTPStatus(code Code) int {
	switch code {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeInvalidStatus:
		return http.StatusConflict
	case CodeInvalidPayload:
		return http.StatusBadRequest
	case CodeRoomNotFound:
		return http.StatusNotFound
	case CodeNoPlayers:
		return http.StatusUnprocessableEntity
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeClientOutdated, CodeRoomOutdated, CodeUnknown:
		return http.StatusUpgradeRequired
	default:
		return http.StatusInternalServerError
	}
}
