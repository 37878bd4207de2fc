package core

import (
	"context"
	"testing"
	"time"
)

func newTestService(t *testing.T, store TenantStore, refresher TokenRefresher, options ...Option) *Service {
	t.Helper()
	base := []Option{
		WithTenantStore(store),
		WithTokenRefresher(refresher),
	}
	svc, err := NewService(Config{}, append(base, options...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestNewService_RequiresStoreAndRefresher(t *testing.T) {
	if _, err := NewService(Config{}); err == nil {
		t.Fatalf("expected error without a tenant store")
	}
	if _, err := NewService(Config{}, WithTenantStore(newMemoryTenantStore())); err == nil {
		t.Fatalf("expected error without a token refresher")
	}
}

func TestNewService_ResolvesLayeredConfig(t *testing.T) {
	svc := newTestService(t, newMemoryTenantStore(), newScriptedRefresher(), WithConfigProvider(
		NewCfgxConfigProvider(staticRawConfigLoader{Values: map[string]any{
			"service_name": "loaded-credentials",
			"watcher": map[string]any{
				"max_attempts": 5,
			},
		}}),
	))

	cfg := svc.Config()
	if cfg.ServiceName != "loaded-credentials" {
		t.Fatalf("expected loaded service name, got %q", cfg.ServiceName)
	}
	if cfg.Watcher.MaxAttempts != 5 {
		t.Fatalf("expected loaded max attempts, got %d", cfg.Watcher.MaxAttempts)
	}
	if cfg.Watcher.Interval != DefaultWatchInterval {
		t.Fatalf("expected default interval to fill the gap, got %s", cfg.Watcher.Interval)
	}
}

func TestNewService_RuntimeConfigWinsOverLoaded(t *testing.T) {
	svc := newTestService(t, newMemoryTenantStore(), newScriptedRefresher(),
		WithConfigProvider(NewCfgxConfigProvider(staticRawConfigLoader{Values: map[string]any{
			"service_name": "loaded-credentials",
		}})),
	)
	if svc.Config().ServiceName != "loaded-credentials" {
		t.Fatalf("sanity: loaded name should win over defaults")
	}

	svc = newTestServiceWithRuntime(t, Config{ServiceName: "runtime-credentials"})
	if svc.Config().ServiceName != "runtime-credentials" {
		t.Fatalf("runtime layer should win, got %q", svc.Config().ServiceName)
	}
}

func newTestServiceWithRuntime(t *testing.T, runtime Config) *Service {
	t.Helper()
	svc, err := NewService(runtime,
		WithTenantStore(newMemoryTenantStore()),
		WithTokenRefresher(newScriptedRefresher()),
		WithConfigProvider(NewCfgxConfigProvider(staticRawConfigLoader{Values: map[string]any{
			"service_name": "loaded-credentials",
		}})),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestService_GetCredentialHydratesFromStore(t *testing.T) {
	ctx := context.Background()
	store := newMemoryTenantStore()
	store.seed(activeTenantRecord("tenant-1", time.Hour))
	svc := newTestService(t, store, newScriptedRefresher())

	entry, err := svc.GetCredential(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if entry.Bundle.AccessToken != "access-token" {
		t.Fatalf("expected hydrated token, got %q", entry.Bundle.AccessToken)
	}

	// The second read must come straight from the cache.
	store.lookupErr = context.DeadlineExceeded
	if _, err := svc.GetCredential(ctx, "tenant-1"); err != nil {
		t.Fatalf("cached read should not touch the store: %v", err)
	}
}

func TestService_GetCredentialUnknownTenant(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newMemoryTenantStore(), newScriptedRefresher())

	_, err := svc.GetCredential(ctx, "nobody")
	if err == nil {
		t.Fatalf("expected an error for an unknown tenant")
	}
}

func TestService_GetCredentialTypedErrors(t *testing.T) {
	ctx := context.Background()
	store := newMemoryTenantStore()

	expired := activeTenantRecord("tenant-expired", -time.Minute)
	store.seed(expired)

	noRefresh := activeTenantRecord("tenant-dead", -time.Minute)
	noRefresh.Bundle.RefreshToken = ""
	store.seed(noRefresh)

	reauth := activeTenantRecord("tenant-reauth", time.Hour)
	reauth.RequiresReauth = true
	reauth.Status = TenantStatusNeedsReauth
	store.seed(reauth)

	svc := newTestService(t, store, newScriptedRefresher())

	_, err := svc.GetCredential(ctx, "tenant-expired")
	if !IsCredentialExpired(err) {
		t.Fatalf("expected expired credential error, got %v", err)
	}
	_, err = svc.GetCredential(ctx, "tenant-dead")
	if !IsReauthRequired(err) {
		t.Fatalf("expected reauth error without refresh token, got %v", err)
	}
	_, err = svc.GetCredential(ctx, "tenant-reauth")
	if !IsReauthRequired(err) {
		t.Fatalf("expected reauth error for flagged tenant, got %v", err)
	}
}

func TestService_RefreshTenantRotatesToken(t *testing.T) {
	ctx := context.Background()
	store := newMemoryTenantStore()
	store.seed(activeTenantRecord("tenant-1", 2*time.Minute))

	fresh := activeBundle(time.Hour)
	fresh.AccessToken = "rotated-token"
	refresher := newScriptedRefresher(scriptedRefreshStep{result: RefreshTokenResult{Bundle: fresh}})
	svc := newTestService(t, store, refresher)

	bundle, err := svc.RefreshTenant(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("refresh tenant: %v", err)
	}
	if bundle.AccessToken != "rotated-token" {
		t.Fatalf("expected rotated token, got %q", bundle.AccessToken)
	}
	record, _ := store.record("tenant-1")
	if record.Bundle.AccessToken != "rotated-token" {
		t.Fatalf("expected durable record updated, got %q", record.Bundle.AccessToken)
	}
}

func TestService_RefreshTenantWithoutClientCredentialsResolver(t *testing.T) {
	ctx := context.Background()
	store := newMemoryTenantStore()
	store.seed(activeTenantRecord("tenant-1", 2*time.Minute))

	fresh := activeBundle(time.Hour)
	fresh.AccessToken = "rotated-token"
	refresher := newScriptedRefresher(scriptedRefreshStep{result: RefreshTokenResult{Bundle: fresh}})

	// No WithClientCredentialsResolver: the refresh must run with zero
	// client credentials instead of failing resolution.
	svc := newTestService(t, store, refresher)

	bundle, err := svc.RefreshTenant(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("refresh without a resolver: %v", err)
	}
	if bundle.AccessToken != "rotated-token" {
		t.Fatalf("expected rotated token, got %q", bundle.AccessToken)
	}
	record, _ := store.record("tenant-1")
	if record.RequiresReauth {
		t.Fatalf("tenant must not be flagged for reauth, reason %q", record.ReauthReason)
	}
}

func TestService_RefreshTenantWithoutRefreshToken(t *testing.T) {
	ctx := context.Background()
	store := newMemoryTenantStore()
	record := activeTenantRecord("tenant-1", time.Hour)
	record.Bundle.RefreshToken = ""
	store.seed(record)

	svc := newTestService(t, store, newScriptedRefresher())

	_, err := svc.RefreshTenant(ctx, "tenant-1")
	if !IsReauthRequired(err) {
		t.Fatalf("expected reauth error, got %v", err)
	}
}

func TestService_AcquireSessionWiresHandler(t *testing.T) {
	ctx := context.Background()
	store := newMemoryTenantStore()
	store.seed(activeTenantRecord("tenant-1", time.Hour))
	factory := newFakeHandlerFactory()

	svc := newTestService(t, store, newScriptedRefresher(), WithHandlerFactory(factory))

	handler, err := svc.AcquireSession(ctx, HandlerConfig{TenantID: "tenant-1", ProviderID: "github"})
	if err != nil {
		t.Fatalf("acquire session: %v", err)
	}
	if handler == nil {
		t.Fatalf("expected a handler")
	}
	if factory.createdCount() != 1 {
		t.Fatalf("expected one handler construction, got %d", factory.createdCount())
	}

	again, err := svc.AcquireSession(ctx, HandlerConfig{TenantID: "tenant-1", ProviderID: "github"})
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if again != handler {
		t.Fatalf("expected the same session handler")
	}
}

func TestService_AcquireSessionWithoutFactory(t *testing.T) {
	ctx := context.Background()
	store := newMemoryTenantStore()
	store.seed(activeTenantRecord("tenant-1", time.Hour))
	svc := newTestService(t, store, newScriptedRefresher())

	if _, err := svc.AcquireSession(ctx, HandlerConfig{TenantID: "tenant-1"}); err == nil {
		t.Fatalf("expected an error without a handler factory")
	}
}

func TestService_InvalidateTenant(t *testing.T) {
	ctx := context.Background()
	store := newMemoryTenantStore()
	store.seed(activeTenantRecord("tenant-1", time.Hour))
	factory := newFakeHandlerFactory()
	svc := newTestService(t, store, newScriptedRefresher(), WithHandlerFactory(factory))

	if _, err := svc.GetCredential(ctx, "tenant-1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if _, err := svc.AcquireSession(ctx, HandlerConfig{TenantID: "tenant-1"}); err != nil {
		t.Fatalf("open session: %v", err)
	}

	if err := svc.InvalidateTenant(ctx, "tenant-1", "app uninstalled"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	record, _ := store.record("tenant-1")
	if !record.RequiresReauth || record.ReauthReason != "app uninstalled" {
		t.Fatalf("expected reauth flag with reason, got %+v", record)
	}
	if stats := svc.Sessions().Statistics(); stats.Count != 0 {
		t.Fatalf("expected sessions torn down, got %d", stats.Count)
	}
	events := store.auditEvents()
	if len(events) == 0 || events[len(events)-1] != AuditEventTenantInvalidated {
		t.Fatalf("expected tenant.invalidated audit entry, got %v", events)
	}

	if _, err := svc.GetCredential(ctx, "tenant-1"); !IsReauthRequired(err) {
		t.Fatalf("expected reauth error after invalidation, got %v", err)
	}
}

func TestService_SnapshotCombinesComponents(t *testing.T) {
	ctx := context.Background()
	store := newMemoryTenantStore()
	store.seed(activeTenantRecord("tenant-1", time.Hour))
	svc := newTestService(t, store, newScriptedRefresher(), WithHandlerFactory(newFakeHandlerFactory()))

	if _, err := svc.GetCredential(ctx, "tenant-1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if _, err := svc.AcquireSession(ctx, HandlerConfig{TenantID: "tenant-1"}); err != nil {
		t.Fatalf("open session: %v", err)
	}

	snapshot, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Cache.TotalEntries != 1 {
		t.Fatalf("expected one cached entry, got %d", snapshot.Cache.TotalEntries)
	}
	if snapshot.Sessions.Count != 1 {
		t.Fatalf("expected one session, got %d", snapshot.Sessions.Count)
	}
	if snapshot.Metrics.Health != HealthVerdictHealthy {
		t.Fatalf("expected healthy verdict with no attempts, got %s", snapshot.Metrics.Health)
	}
	if snapshot.ServiceName != "credentials" {
		t.Fatalf("expected default service name, got %q", snapshot.ServiceName)
	}
}

func TestService_StartStopLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMemoryTenantStore()
	svc := newTestService(t, store, newScriptedRefresher(), WithHandlerFactory(newFakeHandlerFactory()))

	svc.Start(ctx)
	svc.Stop(ctx)

	snapshot, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Watcher.Running {
		t.Fatalf("watcher should be stopped")
	}
}
