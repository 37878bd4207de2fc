package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidCredentialStatusTransition = errors.New("core: invalid credential status transition")
	ErrInvalidTenantStatusTransition     = errors.New("core: invalid tenant status transition")
	ErrTenantNotFound                    = errors.New("core: tenant not found")
)

// CredentialStatus tracks the refresh lifecycle of a cached credential.
type CredentialStatus string

const (
	CredentialStatusActive     CredentialStatus = "active"
	CredentialStatusRefreshing CredentialStatus = "refreshing"
	CredentialStatusFailed     CredentialStatus = "failed"
)

// TokenBundle is the normalized result of a token refresh exchange.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
}

func (b TokenBundle) HasAccessToken() bool {
	return strings.TrimSpace(b.AccessToken) != ""
}

func (b TokenBundle) HasRefreshToken() bool {
	return strings.TrimSpace(b.RefreshToken) != ""
}

// CredentialEntry is the cache-owned view of one tenant's credentials.
// Everything outside CredentialCache receives copies, never the live entry.
type CredentialEntry struct {
	TenantID        string
	ProviderID      string
	OwnerUserID     string
	Bundle          TokenBundle
	Status          CredentialStatus
	RefreshAttempts int
	RequiresReauth  bool
	CachedAt        time.Time
	LastUsedAt      time.Time
	LastModifiedAt  time.Time
}

// Expired reports whether the entry's access token has passed its expiry.
// Expiry is only meaningful while the entry is not failed.
func (e CredentialEntry) Expired(now time.Time) bool {
	if e.Status == CredentialStatusFailed {
		return false
	}
	if e.Bundle.ExpiresAt.IsZero() {
		return false
	}
	return !e.Bundle.ExpiresAt.After(now)
}

func (e *CredentialEntry) TransitionTo(status CredentialStatus, now time.Time) error {
	if e == nil {
		return nil
	}
	if e.Status == status {
		e.LastModifiedAt = now
		return nil
	}
	if !credentialTransitionAllowed(e.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidCredentialStatusTransition, e.Status, status)
	}
	e.Status = status
	e.LastModifiedAt = now
	return nil
}

func credentialTransitionAllowed(current, next CredentialStatus) bool {
	allowed := map[CredentialStatus]map[CredentialStatus]struct{}{
		CredentialStatusActive: {
			CredentialStatusRefreshing: {},
			CredentialStatusFailed:     {},
		},
		CredentialStatusRefreshing: {
			CredentialStatusActive: {},
			CredentialStatusFailed: {},
		},
		CredentialStatusFailed: {
			CredentialStatusActive: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

// TenantStatus is the durable-store view of a tenant integration.
type TenantStatus string

const (
	TenantStatusActive       TenantStatus = "active"
	TenantStatusNeedsReauth  TenantStatus = "needs_reauth"
	TenantStatusDisconnected TenantStatus = "disconnected"
)

// TenantRecord is the authoritative, persisted record of one tenant
// integration. The cache is only an accelerator over this.
type TenantRecord struct {
	TenantID             string
	ProviderID           string
	OwnerUserID          string
	Status               TenantStatus
	Bundle               TokenBundle
	RequiresReauth       bool
	ReauthReason         string
	CredentialsUpdatedAt time.Time
	LastUsedAt           time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (r *TenantRecord) TransitionTo(status TenantStatus, reason string, now time.Time) error {
	if r == nil {
		return nil
	}
	if r.Status == status {
		r.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			r.ReauthReason = strings.TrimSpace(reason)
		}
		return nil
	}
	if !tenantTransitionAllowed(r.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTenantStatusTransition, r.Status, status)
	}
	r.Status = status
	r.UpdatedAt = now
	if strings.TrimSpace(reason) != "" {
		r.ReauthReason = strings.TrimSpace(reason)
	}
	if status == TenantStatusActive {
		r.RequiresReauth = false
		r.ReauthReason = ""
	}
	return nil
}

func tenantTransitionAllowed(current, next TenantStatus) bool {
	allowed := map[TenantStatus]map[TenantStatus]struct{}{
		TenantStatusActive: {
			TenantStatusNeedsReauth:  {},
			TenantStatusDisconnected: {},
		},
		TenantStatusNeedsReauth: {
			TenantStatusActive:       {},
			TenantStatusDisconnected: {},
		},
		TenantStatusDisconnected: {
			TenantStatusActive: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

// ErrorClass buckets refresh failures into retryable and terminal classes.
type ErrorClass string

const (
	ErrorClassInvalidRefreshToken ErrorClass = "invalid_refresh_token"
	ErrorClassInvalidClient       ErrorClass = "invalid_client"
	ErrorClassAccessDenied        ErrorClass = "access_denied"
	ErrorClassInvalidScope        ErrorClass = "invalid_scope"
	ErrorClassRateLimited         ErrorClass = "rate_limited"
	ErrorClassNetworkError        ErrorClass = "network_error"
	ErrorClassServiceUnavailable  ErrorClass = "service_unavailable"
	ErrorClassUnknown             ErrorClass = "unknown"
)

// Retryable reports whether the watcher may retry the class on a later tick.
// Unknown is conservatively terminal.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ErrorClassRateLimited, ErrorClassNetworkError, ErrorClassServiceUnavailable:
		return true
	default:
		return false
	}
}

// AuditEventType labels persisted audit entries.
type AuditEventType string

const (
	AuditEventRefreshSucceeded  AuditEventType = "refresh.succeeded"
	AuditEventRefreshFailed     AuditEventType = "refresh.failed"
	AuditEventReauthRequired    AuditEventType = "reauth.required"
	AuditEventTenantInvalidated AuditEventType = "tenant.invalidated"
)

type AuditEntry struct {
	ID         string
	TenantID   string
	ProviderID string
	EventType  AuditEventType
	ErrorClass ErrorClass
	Error      string
	Metadata   map[string]any
	CreatedAt  time.Time
}
