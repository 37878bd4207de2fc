package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// StatusSnapshot is the combined operational view returned by Snapshot.
type StatusSnapshot struct {
	ServiceName string
	GeneratedAt time.Time
	Cache       CacheStatistics
	Watcher     WatcherStatistics
	Sessions    SessionStatistics
	Metrics     MetricsSnapshot
}

// Service composes the credential cache, the background watcher, the session
// registry, and the consistency synchronizer behind one request surface.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	secretProvider    SecretProvider
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	credentialCodec   CredentialCodec

	tenantStore TenantStore
	refresher   TokenRefresher
	credentials ClientCredentialsResolver

	cache          *CredentialCache
	refreshMetrics *RefreshMetrics
	syncer         *ConsistencySynchronizer
	watcher        *CredentialWatcher
	sessions       *SessionRegistry
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("credentials", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("credentials"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.credentialCodec == nil {
		builder.credentialCodec = JSONCredentialCodec{}
	}
	// credentials stays nil when unset; the watcher skips resolution for
	// nil resolvers.

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.tenantStore == nil && builder.repositoryFactory != nil {
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			storeProvider, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			if storeProvider != nil {
				builder.tenantStore = storeProvider.TenantStore()
			}
		} else if storeProvider, ok := builder.repositoryFactory.(StoreProvider); ok {
			builder.tenantStore = storeProvider.TenantStore()
		}
	}
	if builder.tenantStore == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: tenant store is required"))
	}
	if builder.refresher == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: token refresher is required"))
	}

	cache := NewCredentialCache(WithCacheUsageWindow(finalConfig.Cache.UsageWindow))
	refreshMetrics := NewRefreshMetrics(builder.metricsRecorder)

	syncer, err := NewConsistencySynchronizer(cache, builder.tenantStore, logger, finalConfig.Sync.Concurrency)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	watcher, err := NewCredentialWatcher(WatcherConfigInput{
		Interval:        finalConfig.Watcher.Interval,
		LeadWindow:      finalConfig.Watcher.RefreshLeadWindow,
		MaxAttempts:     finalConfig.Watcher.MaxAttempts,
		SyncEveryCycles: finalConfig.Watcher.SyncEveryCycles,
	}, WatcherDependencies{
		Cache:       cache,
		Store:       builder.tenantStore,
		Refresher:   builder.refresher,
		Credentials: builder.credentials,
		Syncer:      syncer,
		Metrics:     refreshMetrics,
		Logger:      logger,
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	var sessions *SessionRegistry
	if builder.handlerFactory != nil {
		sessions, err = NewSessionRegistry(builder.handlerFactory,
			WithSessionTimeout(finalConfig.Sessions.Timeout),
			WithSessionSweepInterval(finalConfig.Sessions.SweepInterval),
			WithSessionLogger(logger),
		)
		if err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		secretProvider:    builder.secretProvider,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		credentialCodec:   builder.credentialCodec,
		tenantStore:       builder.tenantStore,
		refresher:         builder.refresher,
		credentials:       builder.credentials,
		cache:             cache,
		refreshMetrics:    refreshMetrics,
		syncer:            syncer,
		watcher:           watcher,
		sessions:          sessions,
	}, nil
}

func Setup(cfg Config, options ...Option) (*Service, error) {
	return NewService(cfg, options...)
}

// Start launches the background watcher and, when sessions are configured,
// the idle session sweep.
func (s *Service) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.watcher.Start(ctx)
	if s.sessions != nil {
		s.sessions.StartSweep(ctx)
	}
}

// Stop halts background work and closes live sessions. The watcher stops
// before sessions close so no refresh lands on a dying handler.
func (s *Service) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	s.watcher.Stop()
	if s.sessions != nil {
		s.sessions.StopSweep()
		s.sessions.CloseAll(ctx)
	}
}

// GetCredential returns the tenant's cached credential, hydrating from the
// durable store on a miss. Expired and reauth-required states surface as
// typed errors so callers can distinguish retry from re-authorization.
func (s *Service) GetCredential(ctx context.Context, tenantID string) (entry CredentialEntry, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"tenant_id": tenantID}
	defer func() {
		s.observeOperation(ctx, startedAt, "get_credential", err, fields)
	}()

	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		err = s.mapError(fmt.Errorf("core: tenant id is required"))
		return CredentialEntry{}, err
	}

	if cached, ok := s.cache.Get(tenantID); ok {
		fields["provider_id"] = cached.ProviderID
		if cached.RequiresReauth {
			err = NewReauthRequiredError(fmt.Sprintf("tenant %q requires reauthorization", tenantID))
			return CredentialEntry{}, err
		}
		s.touchUsage(tenantID)
		return cached, nil
	}

	record, found, lookupErr := s.tenantStore.Lookup(ctx, tenantID, "")
	if lookupErr != nil {
		err = s.mapError(lookupErr)
		return CredentialEntry{}, err
	}
	if !found {
		err = s.mapError(fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID))
		return CredentialEntry{}, err
	}
	fields["provider_id"] = record.ProviderID
	if record.Status != TenantStatusActive || record.RequiresReauth {
		err = NewReauthRequiredError(fmt.Sprintf("tenant %q requires reauthorization", tenantID))
		return CredentialEntry{}, err
	}
	if !record.Bundle.HasAccessToken() {
		err = NewReauthRequiredError(fmt.Sprintf("tenant %q has no stored access token", tenantID))
		return CredentialEntry{}, err
	}

	hydrated := CredentialEntry{
		TenantID:    record.TenantID,
		ProviderID:  record.ProviderID,
		OwnerUserID: record.OwnerUserID,
		Bundle:      record.Bundle,
	}
	if hydrated.Expired(time.Now().UTC()) {
		if record.Bundle.HasRefreshToken() {
			// Cache the expired entry so the next watcher tick refreshes it.
			_ = s.cache.Set(tenantID, hydrated)
			err = NewExpiredCredentialError(fmt.Sprintf("tenant %q access token is expired", tenantID))
			return CredentialEntry{}, err
		}
		err = NewReauthRequiredError(fmt.Sprintf("tenant %q access token is expired and has no refresh token", tenantID))
		return CredentialEntry{}, err
	}

	if setErr := s.cache.Set(tenantID, hydrated); setErr != nil {
		err = s.mapError(setErr)
		return CredentialEntry{}, err
	}
	cached, _ := s.cache.Get(tenantID)
	s.touchUsage(tenantID)
	return cached, nil
}

// AcquireSession returns the tenant's live protocol handler, creating one
// when none exists. The handler's token is rotated to the current credential.
func (s *Service) AcquireSession(ctx context.Context, cfg HandlerConfig) (handler ProtocolHandler, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"tenant_id":   cfg.TenantID,
		"provider_id": cfg.ProviderID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "acquire_session", err, fields)
	}()

	if s.sessions == nil {
		err = s.mapError(fmt.Errorf("core: handler factory is required for sessions"))
		return nil, err
	}
	entry, credErr := s.GetCredential(ctx, cfg.TenantID)
	if credErr != nil {
		err = credErr
		return nil, err
	}
	handler, err = s.sessions.GetOrCreate(ctx, cfg, entry.Bundle.AccessToken)
	if err != nil {
		err = s.mapError(err)
		return nil, err
	}
	return handler, nil
}

// InvalidateTenant evicts the tenant from the cache, closes its sessions,
// and marks the stored record for reauthorization.
func (s *Service) InvalidateTenant(ctx context.Context, tenantID string, reason string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"tenant_id": tenantID, "reason": reason}
	defer func() {
		s.observeOperation(ctx, startedAt, "invalidate_tenant", err, fields)
	}()

	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		err = s.mapError(fmt.Errorf("core: tenant id is required"))
		return err
	}

	s.cache.Remove(tenantID)
	if s.sessions != nil {
		s.sessions.Invalidate(ctx, tenantID)
	}
	if markErr := s.tenantStore.MarkForReauth(ctx, tenantID, reason); markErr != nil {
		err = s.mapError(markErr)
		return err
	}
	if auditErr := s.tenantStore.AppendAuditEntry(ctx, AuditEntry{
		TenantID:  tenantID,
		EventType: AuditEventTenantInvalidated,
		Error:     strings.TrimSpace(reason),
		CreatedAt: time.Now().UTC(),
	}); auditErr != nil {
		s.logError(ctx, "audit append failed", map[string]any{
			"tenant_id": tenantID,
			"error":     auditErr.Error(),
		})
	}
	return nil
}

// RefreshTenant refreshes one tenant's credentials synchronously, subject to
// the same single-flight gate as the background watcher.
func (s *Service) RefreshTenant(ctx context.Context, tenantID string) (bundle TokenBundle, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"tenant_id": tenantID}
	defer func() {
		s.observeOperation(ctx, startedAt, "refresh_tenant", err, fields)
	}()

	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		err = s.mapError(fmt.Errorf("core: tenant id is required"))
		return TokenBundle{}, err
	}

	entry, ok := s.cache.Peek(tenantID)
	if !ok {
		record, found, lookupErr := s.tenantStore.Lookup(ctx, tenantID, "")
		if lookupErr != nil {
			err = s.mapError(lookupErr)
			return TokenBundle{}, err
		}
		if !found {
			err = s.mapError(fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID))
			return TokenBundle{}, err
		}
		entry = CredentialEntry{
			TenantID:    record.TenantID,
			ProviderID:  record.ProviderID,
			OwnerUserID: record.OwnerUserID,
			Bundle:      record.Bundle,
		}
		if setErr := s.cache.Set(tenantID, entry); setErr != nil {
			err = s.mapError(setErr)
			return TokenBundle{}, err
		}
	}
	fields["provider_id"] = entry.ProviderID

	if !entry.Bundle.HasRefreshToken() {
		err = NewReauthRequiredError(fmt.Sprintf("tenant %q has no refresh token", tenantID))
		return TokenBundle{}, err
	}
	if entry.Status == CredentialStatusFailed {
		s.cache.ResetAttempts(tenantID)
	}

	claimed, ok := s.cache.MarkRefreshing(tenantID)
	if !ok {
		err = s.mapError(fmt.Errorf("core: refresh already in flight for tenant %s", tenantID))
		return TokenBundle{}, err
	}
	if refreshErr := s.watcher.refreshTenant(ctx, claimed); refreshErr != nil {
		if IsReauthRequired(refreshErr) || IsCredentialExpired(refreshErr) {
			err = refreshErr
		} else {
			err = s.mapError(refreshErr)
		}
		return TokenBundle{}, err
	}

	refreshed, ok := s.cache.Get(tenantID)
	if !ok {
		err = s.mapError(fmt.Errorf("core: refreshed credential missing from cache for tenant %s", tenantID))
		return TokenBundle{}, err
	}
	return refreshed.Bundle, nil
}

// TriggerCycle runs one watcher cycle immediately.
func (s *Service) TriggerCycle(ctx context.Context) (err error) {
	startedAt := time.Now().UTC()
	defer func() {
		s.observeOperation(ctx, startedAt, "trigger_cycle", err, map[string]any{})
	}()
	s.watcher.TriggerCycleNow(ctx)
	return nil
}

// ForceRefreshAll resets attempt counters and refreshes every cached tenant.
func (s *Service) ForceRefreshAll(ctx context.Context) (err error) {
	startedAt := time.Now().UTC()
	defer func() {
		s.observeOperation(ctx, startedAt, "force_refresh_all", err, map[string]any{})
	}()
	s.watcher.ForceRefreshAll(ctx)
	return nil
}

// SyncTenant reconciles one tenant between the cache and the durable store.
func (s *Service) SyncTenant(ctx context.Context, tenantID string, opts SyncOptions) (outcome SyncOutcome, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"tenant_id": tenantID}
	defer func() {
		s.observeOperation(ctx, startedAt, "sync_tenant", err, fields)
	}()

	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		err = s.mapError(fmt.Errorf("core: tenant id is required"))
		return SyncOutcome{}, err
	}
	outcome, syncErr := s.syncer.Sync(ctx, tenantID, opts)
	if syncErr != nil {
		err = s.mapError(syncErr)
		return SyncOutcome{}, err
	}
	return outcome, nil
}

// Snapshot returns the combined operational state of all components.
func (s *Service) Snapshot(ctx context.Context) (StatusSnapshot, error) {
	if s == nil {
		return StatusSnapshot{}, fmt.Errorf("core: service is not initialized")
	}
	snapshot := StatusSnapshot{
		ServiceName: s.config.ServiceName,
		GeneratedAt: time.Now().UTC(),
		Cache:       s.cache.Statistics(),
		Watcher:     s.watcher.Statistics(),
		Metrics:     s.refreshMetrics.Snapshot(),
	}
	if s.sessions != nil {
		snapshot.Sessions = s.sessions.Statistics()
	}
	return snapshot, nil
}

// Config returns the resolved configuration.
func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

// Sessions exposes the session registry for transport wiring. Nil when no
// handler factory was configured.
func (s *Service) Sessions() *SessionRegistry {
	if s == nil {
		return nil
	}
	return s.sessions
}

// TenantStore exposes the durable store for read-side wiring.
func (s *Service) TenantStore() TenantStore {
	if s == nil {
		return nil
	}
	return s.tenantStore
}

// touchUsage records request-path usage in the durable store without
// blocking the caller.
func (s *Service) touchUsage(tenantID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tenantStore.UpdateUsage(ctx, tenantID); err != nil {
			s.logError(ctx, "usage update failed", map[string]any{
				"tenant_id": tenantID,
				"error":     err.Error(),
			})
		}
	}()
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
