package xerrors

import (
	"errors"
	"fmt"
)

// Common reusable application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("resource already exists")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal server error")
	ErrConfig       = errors.New("invalid config")
)

// Session credential failures. All of them map to 401 at the web boundary.
var (
	// ErrInvalidCredential covers bad signatures, issuer/audience mismatch,
	// wrong credential kind and structurally malformed tokens.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrCredentialExpired is returned when a credential is past its expiry.
	ErrCredentialExpired = errors.New("credential expired")

	// ErrSecurityViolation is returned when a consumed or revoked refresh
	// credential is presented again. The whole family has been revoked by the
	// time the caller sees it.
	ErrSecurityViolation = errors.New("security violation: refresh credential reuse detected")
)

// SecurityViolationError carries the audit data of a detected replay.
type SecurityViolationError struct {
	PrincipalID  int64
	RootFamilyID string
}

func (e *SecurityViolationError) Error() string {
	return fmt.Sprintf("%s (principal=%d family=%s)", ErrSecurityViolation.Error(), e.PrincipalID, e.RootFamilyID)
}

func (e *SecurityViolationError) Unwrap() error { return ErrSecurityViolation }

// Wrap adds context to an error (similar to fmt.Errorf("%w")).
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// AsSecurityViolation extracts the violation details from err, if any.
func AsSecurityViolation(err error) (*SecurityViolationError, bool) {
	var sv *SecurityViolationError
	if errors.As(err, &sv) {
		return sv, true
	}
	return nil, false
}

// IsAuthFailure reports whether err belongs to the credential taxonomy
// (as opposed to a store or collaborator failure).
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrCredentialExpired) ||
		errors.Is(err, ErrSecurityViolation)
}
