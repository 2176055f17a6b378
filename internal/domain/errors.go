package domain

import (
	"errors"
	"fmt"
)

// Reconciliation outcomes. These are absorbed into AuthState.LastError.
var (
	ErrNoSession      = errors.New("no session")
	ErrNoUser         = errors.New("no user for session")
	ErrSessionExpired = errors.New("session expired")
	ErrNetwork        = errors.New("identity provider unreachable")
	ErrTimeout        = errors.New("reconciliation timed out")
)

// Login failures. These are returned to the caller.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("rate limit exceeded")
)

// Authorization and request errors.
var (
	ErrForbiddenRole     = errors.New("role not allowed for route")
	ErrCSRFSecretMissing = errors.New("CSRF secret not configured")
	ErrCSRFMismatch      = errors.New("CSRF token mismatch")
	ErrTokenGeneration   = errors.New("token generation failed")
	ErrInvalidEvent      = errors.New("invalid identity event")
	ErrClosed            = errors.New("reconciler closed")
)

// Storage errors.
var (
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// AuthError wraps a login failure kind with the provider's cause.
type AuthError struct {
	Kind  error
	Cause error
}

// NewAuthError creates an AuthError of kind caused by cause.
func NewAuthError(kind, cause error) *AuthError {
	return &AuthError{Kind: kind, Cause: cause}
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
	}
	return e.Kind.Error()
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *AuthError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}
