package core

import "time"

const (
	DefaultRefreshLeadWindow  = 10 * time.Minute
	DefaultExpiringSoonWindow = 5 * time.Minute
	DefaultMaxRefreshAttempts = 3
)

// TokenState captures expiry and refreshability flags derived from a cached
// credential entry.
type TokenState struct {
	ExpiresAt       time.Time
	HasAccessToken  bool
	HasRefreshToken bool
	IsExpired       bool
	IsExpiringSoon  bool
}

// ResolveTokenState evaluates expiry flags for an entry at the given instant.
func ResolveTokenState(now time.Time, entry CredentialEntry, expiringSoonWindow time.Duration) TokenState {
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	if expiringSoonWindow <= 0 {
		expiringSoonWindow = DefaultExpiringSoonWindow
	}

	state := TokenState{
		HasAccessToken:  entry.Bundle.HasAccessToken(),
		HasRefreshToken: entry.Bundle.HasRefreshToken(),
	}
	if entry.Bundle.ExpiresAt.IsZero() {
		return state
	}
	expiresAt := entry.Bundle.ExpiresAt.UTC()
	state.ExpiresAt = expiresAt
	if !expiresAt.After(now) {
		state.IsExpired = true
		return state
	}
	state.IsExpiringSoon = !expiresAt.After(now.Add(expiringSoonWindow))
	return state
}

// ShouldRefresh reports whether the watcher should attempt a refresh before
// the token expires. A missing access token with a usable refresh token is
// always refreshed.
func ShouldRefresh(now time.Time, state TokenState, leadWindow time.Duration) bool {
	if !state.HasRefreshToken {
		return false
	}
	if !state.HasAccessToken {
		return true
	}
	if state.ExpiresAt.IsZero() {
		return false
	}
	if leadWindow <= 0 {
		leadWindow = DefaultRefreshLeadWindow
	}
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	return !state.ExpiresAt.UTC().After(now.Add(leadWindow))
}

// RefreshDecision is the watcher's next move after a failed refresh attempt.
type RefreshDecision struct {
	Status         CredentialStatus
	RequiresReauth bool
}

// NextStatus is the pure transition function applied after a refresh attempt
// fails. attempts is the count including the attempt that just failed.
// Terminal classes fail immediately; retryable classes fail once the attempt
// budget is exhausted.
func NextStatus(class ErrorClass, attempts int, maxAttempts int) RefreshDecision {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRefreshAttempts
	}
	if !class.Retryable() {
		return RefreshDecision{Status: CredentialStatusFailed, RequiresReauth: true}
	}
	if attempts >= maxAttempts {
		return RefreshDecision{Status: CredentialStatusFailed, RequiresReauth: true}
	}
	return RefreshDecision{Status: CredentialStatusActive}
}
