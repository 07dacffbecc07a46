// Package imerrors defines the typed failures returned by the messaging services.
// Every failure carries a stable code, a user-visible message and the HTTP status
// the API server renders it with.
package imerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes.
const (
	CodeNotFound             = "NOT_FOUND"
	CodeForbidden            = "FORBIDDEN"
	CodeBlocked              = "BLOCKED"
	CodeNotAMember           = "NOT_A_MEMBER"
	CodeAlreadyDeleted       = "ALREADY_DELETED"
	CodeTransportUnavailable = "TRANSPORT_UNAVAILABLE"
	CodeConflict             = "CONFLICT"
	CodeBadRequest           = "BAD_REQUEST"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInternal             = "INTERNAL"
)

type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any *AppError with the same code, so errors.Is(err, imerrors.ErrBlocked) works
// for wrapped instances carrying a different message.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

func New(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound             = New(CodeNotFound, "not found", http.StatusNotFound, nil)
	ErrForbidden            = New(CodeForbidden, "forbidden", http.StatusForbidden, nil)
	ErrBlocked              = New(CodeBlocked, "blocked", http.StatusForbidden, nil)
	ErrNotAMember           = New(CodeNotAMember, "not a member", http.StatusForbidden, nil)
	ErrAlreadyDeleted       = New(CodeAlreadyDeleted, "already deleted", http.StatusGone, nil)
	ErrTransportUnavailable = New(CodeTransportUnavailable, "transport unavailable", http.StatusServiceUnavailable, nil)
	ErrConflict             = New(CodeConflict, "conflict", http.StatusConflict, nil)
	ErrBadRequest           = New(CodeBadRequest, "bad request", http.StatusBadRequest, nil)
	ErrRateLimited          = New(CodeRateLimited, "rate limited", http.StatusTooManyRequests, nil)
)

func NotFound(resource string, err error) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound, err)
}

func Forbidden(message string) *AppError {
	return New(CodeForbidden, message, http.StatusForbidden, nil)
}

func Blocked(message string) *AppError {
	return New(CodeBlocked, message, http.StatusForbidden, nil)
}

func NotAMember(message string) *AppError {
	return New(CodeNotAMember, message, http.StatusForbidden, nil)
}

func AlreadyDeleted(resource string) *AppError {
	return New(CodeAlreadyDeleted, fmt.Sprintf("%s already deleted", resource), http.StatusGone, nil)
}

func TransportUnavailable(err error) *AppError {
	return New(CodeTransportUnavailable, "transport unavailable", http.StatusServiceUnavailable, err)
}

func Conflict(message string, err error) *AppError {
	return New(CodeConflict, message, http.StatusConflict, err)
}

func BadRequest(message string, err error) *AppError {
	return New(CodeBadRequest, message, http.StatusBadRequest, err)
}

func Unauthorized(message string) *AppError {
	return New(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func RateLimited(message string) *AppError {
	return New(CodeRateLimited, message, http.StatusTooManyRequests, nil)
}

func Internal(message string, err error) *AppError {
	return New(CodeInternal, message, http.StatusInternalServerError, err)
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// HTTPStatus returns the status for err; untyped errors are 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// From returns err as an *AppError, wrapping untyped errors as INTERNAL.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("internal server error", err)
}
