package core

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	DefaultCacheUsageWindow = 15 * time.Minute

	// Fixed per-entry overhead used for the footprint estimate: struct
	// fields, map bucket share, and timestamps.
	cacheEntryBaseBytes = 160
)

// CacheStatistics is a point-in-time snapshot for operational visibility.
type CacheStatistics struct {
	TotalEntries         int
	ExpiredEntries       int
	RecentlyUsedFraction float64
	EstimatedBytes       int64
}

// CredentialCache is the in-process, TTL-aware accelerator over the durable
// tenant store. It owns its entries exclusively: callers always receive
// copies. Reads lazily evict expired entries; entries never read again are
// collected by the watcher's orphan cleanup.
type CredentialCache struct {
	mu          sync.RWMutex
	entries     map[string]*CredentialEntry
	usageWindow time.Duration
	nowFn       func() time.Time
}

type CacheOption func(*CredentialCache)

func WithCacheUsageWindow(window time.Duration) CacheOption {
	return func(c *CredentialCache) {
		if window > 0 {
			c.usageWindow = window
		}
	}
}

func WithCacheNowFunc(now func() time.Time) CacheOption {
	return func(c *CredentialCache) {
		if now != nil {
			c.nowFn = now
		}
	}
}

func NewCredentialCache(opts ...CacheOption) *CredentialCache {
	cache := &CredentialCache{
		entries:     make(map[string]*CredentialEntry),
		usageWindow: DefaultCacheUsageWindow,
		nowFn:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(cache)
	}
	return cache
}

// Get returns the entry for a tenant, bumping its last-used timestamp. An
// entry whose token has expired is evicted and reported as absent, unless a
// refresh is in flight: the refreshing claim must survive until
// CompleteRefresh or FailRefresh settles it.
func (c *CredentialCache) Get(tenantID string) (CredentialEntry, bool) {
	if c == nil {
		return CredentialEntry{}, false
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return CredentialEntry{}, false
	}

	now := c.nowFn()
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[tenantID]
	if !ok {
		return CredentialEntry{}, false
	}
	if entry.Expired(now) {
		if entry.Status != CredentialStatusRefreshing {
			delete(c.entries, tenantID)
		}
		return CredentialEntry{}, false
	}
	entry.LastUsedAt = now
	return *entry, true
}

// Peek returns the entry without side effects. Expired entries are still
// returned so monitoring can observe them before lazy eviction runs.
func (c *CredentialCache) Peek(tenantID string) (CredentialEntry, bool) {
	if c == nil {
		return CredentialEntry{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[strings.TrimSpace(tenantID)]
	if !ok {
		return CredentialEntry{}, false
	}
	return *entry, true
}

// Set inserts or overwrites the tenant's entry. Attempts reset to zero and
// status returns to active: an explicit set is a fresh start.
func (c *CredentialCache) Set(tenantID string, entry CredentialEntry) error {
	if c == nil {
		return fmt.Errorf("core: credential cache is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return fmt.Errorf("core: tenant id is required")
	}

	now := c.nowFn()
	entry.TenantID = tenantID
	entry.Status = CredentialStatusActive
	entry.RefreshAttempts = 0
	entry.RequiresReauth = false
	entry.CachedAt = now
	entry.LastModifiedAt = now
	if entry.LastUsedAt.IsZero() {
		entry.LastUsedAt = now
	}

	c.mu.Lock()
	c.entries[tenantID] = &entry
	c.mu.Unlock()
	return nil
}

func (c *CredentialCache) Remove(tenantID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, strings.TrimSpace(tenantID))
	c.mu.Unlock()
}

// TenantIDs returns the cached tenant ids in no particular order.
func (c *CredentialCache) TenantIDs() []string {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// Entries returns copies of every cached entry for the watcher's scan.
func (c *CredentialCache) Entries() []CredentialEntry {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CredentialEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, *entry)
	}
	return out
}

// MarkRefreshing attempts the active -> refreshing transition. It returns
// false when the entry is absent, failed, or already refreshing, which makes
// it the single-flight gate: only one caller wins per tenant until the
// refresh completes or fails.
func (c *CredentialCache) MarkRefreshing(tenantID string) (CredentialEntry, bool) {
	if c == nil {
		return CredentialEntry{}, false
	}
	now := c.nowFn()
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[strings.TrimSpace(tenantID)]
	if !ok || entry.Status != CredentialStatusActive {
		return CredentialEntry{}, false
	}
	if err := entry.TransitionTo(CredentialStatusRefreshing, now); err != nil {
		return CredentialEntry{}, false
	}
	return *entry, true
}

// CompleteRefresh installs a freshly exchanged bundle, returning the entry
// to active with its attempt counter cleared.
func (c *CredentialCache) CompleteRefresh(tenantID string, bundle TokenBundle) (CredentialEntry, error) {
	if c == nil {
		return CredentialEntry{}, fmt.Errorf("core: credential cache is not configured")
	}
	now := c.nowFn()
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[strings.TrimSpace(tenantID)]
	if !ok {
		return CredentialEntry{}, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	if err := entry.TransitionTo(CredentialStatusActive, now); err != nil {
		return CredentialEntry{}, err
	}
	entry.Bundle = bundle
	entry.RefreshAttempts = 0
	entry.RequiresReauth = false
	entry.CachedAt = now
	return *entry, nil
}

// FailRefresh records a failed attempt and applies the taxonomy decision:
// retryable classes return to active with the counter bumped, terminal
// classes (or an exhausted budget) flip the entry to failed.
func (c *CredentialCache) FailRefresh(tenantID string, class ErrorClass, maxAttempts int) (CredentialEntry, RefreshDecision, error) {
	if c == nil {
		return CredentialEntry{}, RefreshDecision{}, fmt.Errorf("core: credential cache is not configured")
	}
	now := c.nowFn()
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[strings.TrimSpace(tenantID)]
	if !ok {
		return CredentialEntry{}, RefreshDecision{}, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	entry.RefreshAttempts++
	decision := NextStatus(class, entry.RefreshAttempts, maxAttempts)
	if err := entry.TransitionTo(decision.Status, now); err != nil {
		return CredentialEntry{}, decision, err
	}
	if decision.RequiresReauth {
		entry.RequiresReauth = true
	}
	return *entry, decision, nil
}

// Retire moves an entry straight to failed without recording an attempt or
// an error class. The watcher uses it for hydrated entries whose attempt
// budget is already spent, where no fresh provider verdict exists.
func (c *CredentialCache) Retire(tenantID string) bool {
	if c == nil {
		return false
	}
	now := c.nowFn()
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[strings.TrimSpace(tenantID)]
	if !ok {
		return false
	}
	if err := entry.TransitionTo(CredentialStatusFailed, now); err != nil {
		return false
	}
	return true
}

// ResetAttempts clears the attempt counter and returns a failed entry to
// active so the watcher picks it up again.
func (c *CredentialCache) ResetAttempts(tenantID string) bool {
	if c == nil {
		return false
	}
	now := c.nowFn()
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[strings.TrimSpace(tenantID)]
	if !ok {
		return false
	}
	entry.RefreshAttempts = 0
	entry.RequiresReauth = false
	if entry.Status != CredentialStatusRefreshing {
		entry.Status = CredentialStatusActive
	}
	entry.LastModifiedAt = now
	return true
}

// Statistics reports entry counts, the fraction of entries used within the
// usage window, and a rough memory footprint estimate.
func (c *CredentialCache) Statistics() CacheStatistics {
	if c == nil {
		return CacheStatistics{}
	}
	now := c.nowFn()
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CacheStatistics{TotalEntries: len(c.entries)}
	recentlyUsed := 0
	for _, entry := range c.entries {
		if entry.Expired(now) {
			stats.ExpiredEntries++
		}
		if now.Sub(entry.LastUsedAt) <= c.usageWindow {
			recentlyUsed++
		}
		stats.EstimatedBytes += estimateEntryBytes(entry)
	}
	if stats.TotalEntries > 0 {
		stats.RecentlyUsedFraction = float64(recentlyUsed) / float64(stats.TotalEntries)
	}
	return stats
}

func estimateEntryBytes(entry *CredentialEntry) int64 {
	if entry == nil {
		return 0
	}
	size := int64(cacheEntryBaseBytes)
	size += int64(len(entry.TenantID))
	size += int64(len(entry.ProviderID))
	size += int64(len(entry.OwnerUserID))
	size += int64(len(entry.Bundle.AccessToken))
	size += int64(len(entry.Bundle.RefreshToken))
	size += int64(len(entry.Bundle.TokenType))
	size += int64(len(entry.Bundle.Scope))
	return size
}
