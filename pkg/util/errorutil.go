package util

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared by the relay, the staff API and the command surface.
const (
	CodeLimitExceeded    = "LIMIT_EXCEEDED"
	CodeBlacklisted      = "BLACKLISTED"
	CodeNotFound         = "NOT_FOUND"
	CodeTransportFailure = "TRANSPORT_FAILURE"
	CodeTimeout          = "TIMEOUT"
	CodeNotIdle          = "NOT_IDLE"
	CodeValidation       = "VALIDATION_FAILED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeInternal         = "INTERNAL_ERROR"
)

// Sentinels for expected control-flow outcomes. Match with errors.Is; any
// DomainError carrying the same code compares equal.
var (
	ErrLimitExceeded = NewDomainError(CodeLimitExceeded, "ticket limit reached", http.StatusConflict, nil)
	ErrBlacklisted   = NewDomainError(CodeBlacklisted, "user is blacklisted", http.StatusForbidden, nil)
	ErrNotFound      = NewDomainError(CodeNotFound, "ticket not found", http.StatusNotFound, nil)
	ErrTimeout       = NewDomainError(CodeTimeout, "confirmation timed out", http.StatusRequestTimeout, nil)
	ErrNotIdle       = NewDomainError(CodeNotIdle, "ticket is no longer idle", http.StatusConflict, nil)
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError with the same code.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewLimitExceeded(limit int) error {
	return NewDomainError(CodeLimitExceeded, "ticket limit reached", http.StatusConflict, map[string]any{"limit": limit})
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

// NewTransportFailure wraps an error returned by the chat transport. The
// wrapped error is kept for logs; Message is safe to show to users.
func NewTransportFailure(op string, err error) error {
	return &DomainError{
		Code:       CodeTransportFailure,
		Message:    "transport request failed",
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]any{"op": op},
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsTransportFailure reports whether err came from the chat transport.
func IsTransportFailure(err error) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Code == CodeTransportFailure
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
