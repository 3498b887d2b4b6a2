// Package domain defines core types, ports, and errors for the report service.
package domain

import (
	"fmt"
	"time"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// NoCredentialError indicates that no credential was ever established for
// the session.
type NoCredentialError struct {
	SessionID string
}

func (e *NoCredentialError) Error() string {
	if e.SessionID == "" {
		return "no credential established"
	}
	return fmt.Sprintf("no credential established for session %q", e.SessionID)
}

// RefreshFailedError indicates that a required credential refresh was
// rejected by the auth gateway. It is fatal for the current request.
type RefreshFailedError struct {
	Reason string
	Err    error
}

func (e *RefreshFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential refresh failed: %s: %v", e.Reason, e.Err)
	}
	return "credential refresh failed: " + e.Reason
}

func (e *RefreshFailedError) Unwrap() error { return e.Err }

// GatewayError is returned when the external platform answers with a
// non-success HTTP status or a non-zero application code.
type GatewayError struct {
	Op     string
	Status int
	Code   int
	Msg    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: gateway error (http %d, code %d): %s", e.Op, e.Status, e.Code, e.Msg)
}

// CombineTimeoutError is returned when a mandatory combination of
// sub-queries did not finish within its budget.
type CombineTimeoutError struct {
	Timeout time.Duration
	Pending int
}

func (e *CombineTimeoutError) Error() string {
	return fmt.Sprintf("combined query timed out after %s (%d of the sub-queries pending)", e.Timeout, e.Pending)
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrRefreshFailed creates a RefreshFailedError wrapping the gateway cause.
func ErrRefreshFailed(reason string, err error) *RefreshFailedError {
	return &RefreshFailedError{Reason: reason, Err: err}
}
