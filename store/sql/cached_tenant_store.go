package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-credentials/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const tenantCacheKeyPrefix = "go-credentials::tenant::v1"

type cachedTenantLookup struct {
	Record core.TenantRecord
	Found  bool
}

// CachedTenantStore layers a read cache over a tenant store. Lookups for a
// tenant's default record are served from cache; every write invalidates the
// tenant's cache entry before returning.
type CachedTenantStore struct {
	base  core.TenantStore
	cache repositorycache.CacheService
}

func NewCachedTenantStore(base core.TenantStore, cacheService repositorycache.CacheService) (*CachedTenantStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base tenant store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: tenant cache service is required")
	}
	return &CachedTenantStore{base: base, cache: cacheService}, nil
}

// TenantCacheKey returns the deterministic cache key contract for tenant
// lookups: go-credentials::tenant::v1::<tenant_id> with the tenant segment
// URL-path escaped.
func TenantCacheKey(tenantID string) (string, error) {
	trimmed := strings.TrimSpace(tenantID)
	if trimmed == "" {
		return "", fmt.Errorf("sqlstore: tenant id is required")
	}
	return tenantCacheKeyPrefix + "::" + url.PathEscape(trimmed), nil
}

func (s *CachedTenantStore) Lookup(ctx context.Context, tenantID string, providerID string) (core.TenantRecord, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.TenantRecord{}, false, fmt.Errorf("sqlstore: cached tenant store is not configured")
	}
	// Provider-scoped lookups are rare and cheap enough to hit the base
	// store directly; only tenant-default lookups are cached.
	if strings.TrimSpace(providerID) != "" {
		return s.base.Lookup(ctx, tenantID, providerID)
	}

	cacheKey, err := TenantCacheKey(tenantID)
	if err != nil {
		return core.TenantRecord{}, false, err
	}

	lookup, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedTenantLookup, error) {
		record, found, fetchErr := s.base.Lookup(ctx, tenantID, "")
		if fetchErr != nil {
			return cachedTenantLookup{}, fetchErr
		}
		return cachedTenantLookup{Record: record, Found: found}, nil
	})
	if err != nil {
		return core.TenantRecord{}, false, err
	}
	return lookup.Record, lookup.Found, nil
}

func (s *CachedTenantStore) ListActiveTenantIDs(ctx context.Context) ([]string, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached tenant store is not configured")
	}
	return s.base.ListActiveTenantIDs(ctx)
}

func (s *CachedTenantStore) UpdateCredentials(ctx context.Context, in core.UpdateCredentialsInput) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached tenant store is not configured")
	}
	if err := s.base.UpdateCredentials(ctx, in); err != nil {
		return err
	}
	return s.invalidate(ctx, in.TenantID)
}

func (s *CachedTenantStore) UpdateUsage(ctx context.Context, tenantID string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached tenant store is not configured")
	}
	if err := s.base.UpdateUsage(ctx, tenantID); err != nil {
		return err
	}
	return s.invalidate(ctx, tenantID)
}

func (s *CachedTenantStore) MarkForReauth(ctx context.Context, tenantID string, reason string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached tenant store is not configured")
	}
	if err := s.base.MarkForReauth(ctx, tenantID, reason); err != nil {
		return err
	}
	return s.invalidate(ctx, tenantID)
}

func (s *CachedTenantStore) AppendAuditEntry(ctx context.Context, entry core.AuditEntry) error {
	if s == nil || s.base == nil {
		return fmt.Errorf("sqlstore: cached tenant store is not configured")
	}
	return s.base.AppendAuditEntry(ctx, entry)
}

func (s *CachedTenantStore) invalidate(ctx context.Context, tenantID string) error {
	cacheKey, err := TenantCacheKey(tenantID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

var _ core.TenantStore = (*CachedTenantStore)(nil)
