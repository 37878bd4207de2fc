package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-credentials/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

type stubTenantStore struct {
	mu          sync.Mutex
	record      core.TenantRecord
	found       bool
	lookupCalls int
	updateCalls int
	lookupErr   error
	updateErr   error
}

func (s *stubTenantStore) Lookup(_ context.Context, _ string, _ string) (core.TenantRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookupCalls++
	if s.lookupErr != nil {
		return core.TenantRecord{}, false, s.lookupErr
	}
	return s.record, s.found, nil
}

func (s *stubTenantStore) ListActiveTenantIDs(context.Context) ([]string, error) {
	return []string{s.record.TenantID}, nil
}

func (s *stubTenantStore) UpdateCredentials(_ context.Context, in core.UpdateCredentialsInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if s.updateErr != nil {
		return s.updateErr
	}
	s.record.Bundle = in.Bundle
	return nil
}

func (s *stubTenantStore) UpdateUsage(context.Context, string) error {
	return nil
}

func (s *stubTenantStore) MarkForReauth(context.Context, string, string) error {
	return nil
}

func (s *stubTenantStore) AppendAuditEntry(context.Context, core.AuditEntry) error {
	return nil
}

func TestCachedTenantStore_Lookup_MissFetchThenHit(t *testing.T) {
	cacheService := newTestTenantCacheService(t)
	base := &stubTenantStore{
		record: core.TenantRecord{
			TenantID:   "tenant_cache_1",
			ProviderID: "github",
			Status:     core.TenantStatusActive,
		},
		found: true,
	}

	store, err := NewCachedTenantStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached tenant store: %v", err)
	}

	if _, _, err := store.Lookup(context.Background(), "tenant_cache_1", ""); err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	if base.lookupCalls != 1 {
		t.Fatalf("expected first lookup to fetch base store once, got %d", base.lookupCalls)
	}

	if _, _, err := store.Lookup(context.Background(), "tenant_cache_1", ""); err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if base.lookupCalls != 1 {
		t.Fatalf("expected second lookup to be cache hit, base lookup calls=%d", base.lookupCalls)
	}
}

func TestCachedTenantStore_ProviderScopedLookupBypassesCache(t *testing.T) {
	cacheService := newTestTenantCacheService(t)
	base := &stubTenantStore{
		record: core.TenantRecord{TenantID: "tenant_cache_2", ProviderID: "github"},
		found:  true,
	}

	store, err := NewCachedTenantStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached tenant store: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, _, err := store.Lookup(context.Background(), "tenant_cache_2", "github"); err != nil {
			t.Fatalf("provider-scoped lookup %d: %v", i+1, err)
		}
	}
	if base.lookupCalls != 2 {
		t.Fatalf("expected provider-scoped lookups to hit base each time, got %d", base.lookupCalls)
	}
}

func TestCachedTenantStore_UpdateCredentials_InvalidatesCachedTenant(t *testing.T) {
	cacheService := newTestTenantCacheService(t)
	base := &stubTenantStore{
		record: core.TenantRecord{
			TenantID:   "tenant_cache_3",
			ProviderID: "github",
			Bundle:     core.TokenBundle{AccessToken: "token-v1"},
		},
		found: true,
	}

	store, err := NewCachedTenantStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached tenant store: %v", err)
	}

	if _, _, err := store.Lookup(context.Background(), "tenant_cache_3", ""); err != nil {
		t.Fatalf("prime cache with lookup: %v", err)
	}
	if base.lookupCalls != 1 {
		t.Fatalf("expected one base read after cache prime, got %d", base.lookupCalls)
	}

	if err := store.UpdateCredentials(context.Background(), core.UpdateCredentialsInput{
		TenantID: "tenant_cache_3",
		Bundle:   core.TokenBundle{AccessToken: "token-v2"},
	}); err != nil {
		t.Fatalf("update credentials through cached store: %v", err)
	}
	if base.updateCalls != 1 {
		t.Fatalf("expected base update call count=1, got %d", base.updateCalls)
	}

	record, found, err := store.Lookup(context.Background(), "tenant_cache_3", "")
	if err != nil {
		t.Fatalf("lookup after invalidation: %v", err)
	}
	if !found {
		t.Fatalf("expected tenant record after invalidation")
	}
	if base.lookupCalls != 2 {
		t.Fatalf("expected invalidated key to force second base read, got %d", base.lookupCalls)
	}
	if record.Bundle.AccessToken != "token-v2" {
		t.Fatalf("expected refreshed bundle, got %q", record.Bundle.AccessToken)
	}
}

func TestTenantCacheKey_Contract(t *testing.T) {
	key, err := TenantCacheKey(" tenant/alpha team ")
	if err != nil {
		t.Fatalf("build cache key: %v", err)
	}

	const expected = "go-credentials::tenant::v1::tenant%2Falpha%20team"
	if key != expected {
		t.Fatalf("unexpected cache key contract: got %q want %q", key, expected)
	}

	if _, err := TenantCacheKey("   "); err == nil {
		t.Fatalf("expected empty tenant id to be rejected")
	}
}

func TestCachedTenantStore_PropagatesBaseErrors(t *testing.T) {
	cacheService := newTestTenantCacheService(t)
	baseErr := errors.New("store offline")
	base := &stubTenantStore{lookupErr: baseErr}
	store, err := NewCachedTenantStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached tenant store: %v", err)
	}

	_, _, err = store.Lookup(context.Background(), "tenant_cache_404", "")
	if !errors.Is(err, baseErr) {
		t.Fatalf("expected base error propagation, got %v", err)
	}
}

func newTestTenantCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
