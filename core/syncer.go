package core

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

const DefaultSyncConcurrency = 4

// SyncOptions controls one reconciliation pass for a tenant.
type SyncOptions struct {
	// ForceRefresh hydrates from the store even when the cache looks newer.
	ForceRefresh bool
	// PushCacheToStore writes the cache's bundle back when the cache is
	// strictly newer than the store.
	PushCacheToStore bool
}

// SyncOutcome reports what a reconciliation pass did.
type SyncOutcome struct {
	// Valid is false when the tenant is gone or no longer active in the
	// store; the watcher uses this for orphan cleanup.
	Valid    bool
	Hydrated bool
	Pushed   bool
	Evicted  bool
}

// ConsistencySynchronizer reconciles cache entries against the durable
// store. The store is authoritative: a newer store record replaces the
// cached bundle, a dead tenant evicts it.
type ConsistencySynchronizer struct {
	cache       *CredentialCache
	store       TenantStore
	logger      Logger
	concurrency int
}

func NewConsistencySynchronizer(cache *CredentialCache, store TenantStore, logger Logger, concurrency int) (*ConsistencySynchronizer, error) {
	if cache == nil {
		return nil, fmt.Errorf("core: credential cache is required")
	}
	if store == nil {
		return nil, fmt.Errorf("core: tenant store is required")
	}
	if concurrency <= 0 {
		concurrency = DefaultSyncConcurrency
	}
	return &ConsistencySynchronizer{
		cache:       cache,
		store:       store,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (s *ConsistencySynchronizer) Sync(ctx context.Context, tenantID string, opts SyncOptions) (SyncOutcome, error) {
	if s == nil || s.cache == nil || s.store == nil {
		return SyncOutcome{}, fmt.Errorf("core: consistency synchronizer is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return SyncOutcome{}, fmt.Errorf("core: tenant id is required")
	}

	entry, cached := s.cache.Peek(tenantID)
	providerID := entry.ProviderID

	record, found, err := s.store.Lookup(ctx, tenantID, providerID)
	if err != nil {
		return SyncOutcome{Valid: cached}, err
	}
	if !found || record.Status != TenantStatusActive {
		if cached {
			s.cache.Remove(tenantID)
		}
		return SyncOutcome{Valid: false, Evicted: cached}, nil
	}

	outcome := SyncOutcome{Valid: true}
	if !cached {
		if record.Bundle.HasAccessToken() && !record.RequiresReauth {
			if err := s.hydrate(tenantID, record); err != nil {
				return outcome, err
			}
			outcome.Hydrated = true
		}
		return outcome, nil
	}

	storeNewer := record.CredentialsUpdatedAt.After(entry.CachedAt)
	switch {
	case storeNewer || opts.ForceRefresh:
		if !record.Bundle.HasAccessToken() || record.RequiresReauth {
			s.cache.Remove(tenantID)
			outcome.Evicted = true
			return outcome, nil
		}
		if err := s.hydrate(tenantID, record); err != nil {
			return outcome, err
		}
		outcome.Hydrated = true
	case opts.PushCacheToStore && entry.CachedAt.After(record.CredentialsUpdatedAt):
		if err := s.store.UpdateCredentials(ctx, UpdateCredentialsInput{
			TenantID: tenantID,
			Bundle:   entry.Bundle,
		}); err != nil {
			return outcome, err
		}
		outcome.Pushed = true
	}
	return outcome, nil
}

func (s *ConsistencySynchronizer) hydrate(tenantID string, record TenantRecord) error {
	return s.cache.Set(tenantID, CredentialEntry{
		TenantID:    tenantID,
		ProviderID:  record.ProviderID,
		OwnerUserID: record.OwnerUserID,
		Bundle:      record.Bundle,
	})
}

// SyncAll reconciles every cached tenant with bounded concurrency so a large
// cache does not overwhelm the store. Per-tenant failures are logged and do
// not stop the pass.
func (s *ConsistencySynchronizer) SyncAll(ctx context.Context, opts SyncOptions) error {
	if s == nil || s.cache == nil {
		return fmt.Errorf("core: consistency synchronizer is not configured")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for _, tenantID := range s.cache.TenantIDs() {
		tenantID := tenantID
		group.Go(func() error {
			if _, err := s.Sync(groupCtx, tenantID, opts); err != nil {
				if s.logger != nil {
					s.logger.Error("tenant sync failed", "tenant_id", tenantID, "error", err.Error())
				}
			}
			return nil
		})
	}
	return group.Wait()
}
