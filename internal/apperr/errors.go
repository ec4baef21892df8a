// Package apperr defines the error taxonomy shared by the registry,
// ingestion engine and sync orchestrator. Each type marks a distinct
// propagation policy: validation and conflict errors surface to the
// tenant verbatim, API errors are retried by the next poll cycle, and
// not-found errors abort one unit of work without failing the batch.
package apperr

import "fmt"

// ValidationError reports malformed caller input. Non-retryable.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// AuthError reports an upstream OAuth failure (bad credentials).
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string { return e.Msg }

// Authf builds an AuthError.
func Authf(format string, args ...any) *AuthError {
	return &AuthError{Msg: fmt.Sprintf(format, args...)}
}

// APIError reports an upstream provider HTTP failure. Retryable by the
// next scheduled poll.
type APIError struct {
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d)", e.Msg, e.Status)
	}
	return e.Msg
}

// APIf builds an APIError.
func APIf(status int, format string, args ...any) *APIError {
	return &APIError{Status: status, Msg: fmt.Sprintf(format, args...)}
}

// ConflictError reports a device already claimed by a different,
// still-extant account with a different identity.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// Conflictf builds a ConflictError.
func Conflictf(format string, args ...any) *ConflictError {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports that a referenced entity no longer exists,
// usually a race (device deleted mid-flight) caught by a defensive check.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

// NotFoundf builds a NotFoundError.
func NotFoundf(format string, args ...any) *NotFoundError {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

// SecurityError reports a rejected webhook signature. Logged, no retry.
type SecurityError struct {
	Msg string
}

func (e *SecurityError) Error() string { return e.Msg }

// Securityf builds a SecurityError.
func Securityf(format string, args ...any) *SecurityError {
	return &SecurityError{Msg: fmt.Sprintf(format, args...)}
}
