package domain

import (
	"errors"
	"fmt"
)

// ============================================================================
// Domain Error Types
// ============================================================================

// DomainError represents a domain-specific error with a code and message
type DomainError struct {
	Code    string
	Message string
	Cause   error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches on Code so sentinel comparisons survive wrapping with a cause
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, cause error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Error codes
const (
	CodeUnauthenticated  = "UNAUTHENTICATED"
	CodeUpstream         = "UPSTREAM_ERROR"
	CodeInvalidPath      = "INVALID_PATH"
	CodeTokenStore       = "TOKEN_STORE_FAILED"
	CodeLoginUnavailable = "LOGIN_UNAVAILABLE"
)

// ============================================================================
// Common Domain Errors
// ============================================================================

var (
	// Authentication errors. Messages are returned to the caller verbatim.
	ErrNotAuthenticated = &DomainError{
		Code:    CodeUnauthenticated,
		Message: "Not authenticated",
	}
	ErrNotOAuth2Authenticated = &DomainError{
		Code:    CodeUnauthenticated,
		Message: "Not OAuth2 authenticated",
	}
	ErrClientNotFound = &DomainError{
		Code:    CodeUnauthenticated,
		Message: "OAuth2 client not found",
	}

	// Returned by the login routes when no GitHub credentials are configured
	ErrLoginUnavailable = &DomainError{
		Code:    CodeLoginUnavailable,
		Message: "GitHub login is not configured",
	}
)

// ============================================================================
// Error Wrapping Helpers
// ============================================================================

// WrapUpstreamError wraps a failed upstream call for the named operation
func WrapUpstreamError(operation string, cause error) error {
	return &DomainError{
		Code:    CodeUpstream,
		Message: fmt.Sprintf("upstream request failed: %s", operation),
		Cause:   cause,
	}
}

// WrapInvalidPath wraps a rejected upstream path
func WrapInvalidPath(path, reason string) error {
	return &DomainError{
		Code:    CodeInvalidPath,
		Message: fmt.Sprintf("invalid upstream path %q: %s", path, reason),
	}
}

// WrapTokenStore wraps a token store I/O failure (not a miss)
func WrapTokenStore(operation string, cause error) error {
	return &DomainError{
		Code:    CodeTokenStore,
		Message: fmt.Sprintf("token store operation failed: %s", operation),
		Cause:   cause,
	}
}

// ============================================================================
// Error Checking Helpers
// ============================================================================

func hasCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// IsUnauthenticated reports any of the 401 family
func IsUnauthenticated(err error) bool {
	return hasCode(err, CodeUnauthenticated)
}

// IsUpstreamError checks if an error came from the upstream call
func IsUpstreamError(err error) bool {
	return hasCode(err, CodeUpstream)
}

// IsValidationError checks if an error is caused by caller input
func IsValidationError(err error) bool {
	return hasCode(err, CodeInvalidPath)
}

// IsUnavailable checks if a feature is switched off by configuration
func IsUnavailable(err error) bool {
	return hasCode(err, CodeLoginUnavailable)
}

// PublicMessage returns the message that is safe to show to callers
func PublicMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) && domainErr.Message != "" {
		return domainErr.Message
	}
	return "An error occurred"
}

// CauseMessage returns the innermost detail of a wrapped error, falling back
// to the error text itself
func CauseMessage(err error) string {
	if err == nil {
		return ""
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) && domainErr.Cause != nil {
		return domainErr.Cause.Error()
	}
	return err.Error()
}

// UpstreamStatus returns the HTTP status the upstream answered with, or 0
// when the request never got a response
func UpstreamStatus(err error) int {
	var statusErr interface{ HTTPStatus() int }
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatus()
	}
	return 0
}
