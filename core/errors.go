package core

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	CredentialErrorBadInput       = "CREDENTIAL_BAD_INPUT"
	CredentialErrorExpired        = "CREDENTIAL_EXPIRED"
	CredentialErrorReauthRequired = "REAUTHORIZATION_REQUIRED"
	CredentialErrorRefreshLocked  = "CREDENTIAL_REFRESH_LOCKED"
	CredentialErrorRateLimited    = "CREDENTIAL_RATE_LIMITED"
	CredentialErrorTenantNotFound = "CREDENTIAL_TENANT_NOT_FOUND"
	CredentialErrorInternal       = "CREDENTIAL_INTERNAL_ERROR"
)

// NewExpiredCredentialError marks a token that is expired but still eligible
// for automatic refresh: callers should retry rather than re-authorize.
func NewExpiredCredentialError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(CredentialErrorExpired)
}

// NewReauthRequiredError marks a credential that cannot recover without user
// action: the refresh token is gone, revoked, or was never granted.
func NewReauthRequiredError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(CredentialErrorReauthRequired)
}

func IsCredentialExpired(err error) bool {
	return hasTextCode(err, CredentialErrorExpired)
}

func IsReauthRequired(err error) bool {
	return hasTextCode(err, CredentialErrorReauthRequired)
}

func hasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(richErr.TextCode), code)
}

// WithErrorClass pins a taxonomy class on an error. Classify returns the
// pinned class verbatim, ahead of its own heuristics. Provider descriptors
// use this to override the shared patterns.
func WithErrorClass(err error, class ErrorClass) error {
	if err == nil {
		return nil
	}
	if strings.TrimSpace(string(class)) == "" {
		return err
	}
	return &classifiedError{class: class, err: err}
}

type classifiedError struct {
	class ErrorClass
	err   error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Classify buckets a refresh failure into the shared error taxonomy. It
// prefers an explicitly pinned class, then structured category/text-code
// information, and falls back to message patterns the way providers commonly
// phrase OAuth failures.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}

	var pinned *classifiedError
	if errors.As(err, &pinned) {
		return pinned.class
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorClassNetworkError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassNetworkError
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch strings.TrimSpace(strings.ToLower(richErr.TextCode)) {
		case strings.ToLower(CredentialErrorRateLimited):
			return ErrorClassRateLimited
		case strings.ToLower(CredentialErrorReauthRequired):
			return ErrorClassInvalidRefreshToken
		}
		switch richErr.Category {
		case goerrors.CategoryRateLimit:
			return ErrorClassRateLimited
		case goerrors.CategoryExternal:
			return ErrorClassServiceUnavailable
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "invalid_grant"),
		strings.Contains(msg, "invalid refresh token"),
		strings.Contains(msg, "refresh token expired"),
		strings.Contains(msg, "expired refresh token"),
		strings.Contains(msg, "token has been expired or revoked"):
		return ErrorClassInvalidRefreshToken
	case strings.Contains(msg, "invalid_client"),
		strings.Contains(msg, "unauthorized_client"),
		strings.Contains(msg, "client id"),
		strings.Contains(msg, "client secret"):
		return ErrorClassInvalidClient
	case strings.Contains(msg, "access_denied"),
		strings.Contains(msg, "access denied"),
		strings.Contains(msg, "user revoked"),
		strings.Contains(msg, "consent revoked"):
		return ErrorClassAccessDenied
	case strings.Contains(msg, "invalid_scope"),
		strings.Contains(msg, "invalid scope"),
		strings.Contains(msg, "malformed scope"):
		return ErrorClassInvalidScope
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "throttl"):
		return ErrorClassRateLimited
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "broken pipe"):
		return ErrorClassNetworkError
	case strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "gateway timeout"),
		strings.Contains(msg, "internal server error"),
		strings.Contains(msg, "upstream"):
		return ErrorClassServiceUnavailable
	default:
		return ErrorClassUnknown
	}
}

func credentialErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureCredentialErrorEnvelope(richErr)
	}

	if errors.Is(err, ErrTenantNotFound) {
		return ensureCredentialErrorEnvelope(
			goerrors.New(err.Error(), goerrors.CategoryNotFound).
				WithTextCode(CredentialErrorTenantNotFound),
		)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "refresh already in flight"), strings.Contains(msg, "refresh lock"):
		return newCredentialError(err.Error(), goerrors.CategoryConflict, CredentialErrorRefreshLocked)
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "throttl"):
		return newCredentialError(err.Error(), goerrors.CategoryRateLimit, CredentialErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newCredentialError(err.Error(), goerrors.CategoryBadInput, CredentialErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureCredentialErrorEnvelope(mapped)
}

func newCredentialError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureCredentialErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureCredentialErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = credentialHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultCredentialTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultCredentialTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return CredentialErrorBadInput
	case goerrors.CategoryNotFound:
		return CredentialErrorTenantNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return CredentialErrorReauthRequired
	case goerrors.CategoryConflict:
		return CredentialErrorRefreshLocked
	case goerrors.CategoryRateLimit:
		return CredentialErrorRateLimited
	default:
		return CredentialErrorInternal
	}
}

func credentialHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
