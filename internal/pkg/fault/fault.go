// Package fault defines the closed error taxonomy shared by all modules.
// Storage and validation failures are mapped into these errors exactly once,
// at the service boundary, so handlers and scan logs see stable codes.
package fault

import (
	"errors"
	"fmt"
)

// Kind groups error codes by how callers should treat them.
type Kind int

const (
	// KindAuth: caller not identified or not allowed to act on this session.
	KindAuth Kind = iota
	// KindValidation: malformed request or terminal token state.
	KindValidation
	// KindAntiCheat: the scan tripped an anti-cheat check.
	KindAntiCheat
	// KindResource: missing entities, conditional-update conflicts, store failures.
	KindResource
	// KindBusiness: legitimate request rejected by domain rules.
	KindBusiness
	// KindInternal: unexpected failure, surfaced generically, always logged.
	KindInternal
)

// Stable codes returned to clients and written into scan logs.
const (
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeForbidden             = "FORBIDDEN"
	CodeBadRequest            = "BAD_REQUEST"
	CodeNotFound              = "NOT_FOUND"
	CodeTokenNotFound         = "TOKEN_NOT_FOUND"
	CodeTokenExpired          = "TOKEN_EXPIRED"
	CodeTokenUsed             = "TOKEN_USED"
	CodeTokenRevoked          = "TOKEN_REVOKED"
	CodeConflict              = "CONFLICT"
	CodeRateLimited           = "RATE_LIMITED"
	CodeGeofenceViolation     = "GEOFENCE_VIOLATION"
	CodeWifiViolation         = "WIFI_VIOLATION"
	CodeIneligibleStudent     = "INELIGIBLE_STUDENT"
	CodeSessionNotFound       = "SESSION_NOT_FOUND"
	CodeSessionEnded          = "SESSION_ENDED"
	CodeChainNotFound         = "CHAIN_NOT_FOUND"
	CodeChainNotActive        = "CHAIN_NOT_ACTIVE"
	CodeInsufficientStudents  = "INSUFFICIENT_STUDENTS"
	CodeRotationNotActive     = "ROTATION_NOT_ACTIVE"
	CodeInternal              = "INTERNAL_ERROR"
)

// Error carries a kind, a stable code and a human-readable message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a taxonomy error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates a taxonomy error preserving the underlying cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

// Internal wraps an unexpected error as a generic internal failure.
func Internal(cause error) *Error {
	return Wrap(KindInternal, CodeInternal, "internal error", cause)
}

// CodeOf extracts the stable code from err, or CodeInternal for
// unclassified errors.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeInternal
}

// KindOf extracts the kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsCode reports whether err carries the given stable code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}
