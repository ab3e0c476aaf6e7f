// Package errors defines the structured error types used across the Gatekeeper
// service. Expected denial outcomes (missing key, invalid key, IP denied, rate
// limit exceeded) are modeled as values carrying a machine-readable code and an
// HTTP status; only unexpected infrastructure faults travel as wrapped errors.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/merchware/gatekeeper/pkg/constants"
)

// AppError is a structured application error with an HTTP mapping.
type AppError struct {
	Code       string
	HTTPStatus int
	Message    string
	cause      error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap supports errors.Is/As over the cause chain.
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause attaches an underlying error and returns a copy.
func (e *AppError) WithCause(cause error) *AppError {
	clone := *e
	clone.cause = cause
	return &clone
}

// New creates an AppError with the given code, status, and message.
func New(code string, httpStatus int, message string) *AppError {
	return &AppError{Code: code, HTTPStatus: httpStatus, Message: message}
}

// ErrMissingKey means no secret was supplied in the expected header.
func ErrMissingKey(header string, keyType constants.KeyType) *AppError {
	return New(constants.ErrorCodeMissingKey, http.StatusUnauthorized,
		fmt.Sprintf("Missing %s API key: set the %s header", keyType, header))
}

// ErrInvalidKey means the secret did not resolve to a usable key of the
// required type.
func ErrInvalidKey(keyType constants.KeyType) *AppError {
	return New(constants.ErrorCodeInvalidKey, http.StatusUnauthorized,
		fmt.Sprintf("Invalid or inactive %s API key", keyType))
}

// ErrIPDenied means the key's allowlist does not include the caller address.
func ErrIPDenied() *AppError {
	return New(constants.ErrorCodeIPDenied, http.StatusForbidden,
		"IP address not allowed for this key")
}

// ErrRateLimitExceeded means the principal exhausted its fixed window.
func ErrRateLimitExceeded(limit int) *AppError {
	return New(constants.ErrorCodeRateLimitExceeded, http.StatusTooManyRequests,
		fmt.Sprintf("Rate limit of %d requests per window exceeded", limit))
}

// ErrUnavailable wraps a transient store or cache fault. Callers at the
// validator/limiter boundary convert it into a fail-closed denial.
func ErrUnavailable(cause error) *AppError {
	return New(constants.ErrorCodeUnavailable, http.StatusServiceUnavailable,
		"Backing store temporarily unavailable").WithCause(cause)
}

// ErrNotFound is the sentinel for repository and cache lookups that matched
// no record. It is an expected outcome, never logged as a fault.
var ErrNotFound = New("not_found", http.StatusNotFound, "record not found")

// IsNotFound reports whether err is the not-found sentinel.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrNotFound.Code
	}
	return false
}

// IsTransient reports whether err represents a transient infrastructure fault.
func IsTransient(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == constants.ErrorCodeUnavailable
	}
	return false
}

// AsAppError extracts an AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}
