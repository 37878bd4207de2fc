package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const DefaultWatchInterval = 5 * time.Minute

// WatcherStatistics is the operator-facing view of the refresh loop.
type WatcherStatistics struct {
	Running           bool
	CyclesRun         int64
	LastCycleAt       time.Time
	LastCycleDuration time.Duration
	LastExamined      int
	LastRefreshed     int
	LastFailed        int
}

// CredentialWatcher drives the per-tenant refresh state machine once per
// tick: it scans the cache, refreshes entries approaching expiry, persists
// outcomes to the durable store, and reconciles cache state through the
// synchronizer. It is the only writer of transitions into and out of
// refreshing; the cache's MarkRefreshing gate keeps refreshes single-flight
// even when cycles overlap with manual triggers.
type CredentialWatcher struct {
	cache       *CredentialCache
	store       TenantStore
	refresher   TokenRefresher
	credentials ClientCredentialsResolver
	syncer      *ConsistencySynchronizer
	metrics     *RefreshMetrics
	logger      Logger

	interval    time.Duration
	leadWindow  time.Duration
	maxAttempts int
	syncEvery   int

	nowFn func() time.Time

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	cycleMu sync.Mutex

	statsMu sync.Mutex
	stats   WatcherStatistics
}

type WatcherConfigInput struct {
	Interval        time.Duration
	LeadWindow      time.Duration
	MaxAttempts     int
	SyncEveryCycles int
}

type WatcherDependencies struct {
	Cache       *CredentialCache
	Store       TenantStore
	Refresher   TokenRefresher
	Credentials ClientCredentialsResolver
	Syncer      *ConsistencySynchronizer
	Metrics     *RefreshMetrics
	Logger      Logger
	Now         func() time.Time
}

func NewCredentialWatcher(cfg WatcherConfigInput, deps WatcherDependencies) (*CredentialWatcher, error) {
	if deps.Cache == nil {
		return nil, fmt.Errorf("core: credential cache is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("core: tenant store is required")
	}
	if deps.Refresher == nil {
		return nil, fmt.Errorf("core: token refresher is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultWatchInterval
	}
	if cfg.LeadWindow <= 0 {
		cfg.LeadWindow = DefaultRefreshLeadWindow
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxRefreshAttempts
	}
	if cfg.SyncEveryCycles <= 0 {
		cfg.SyncEveryCycles = 1
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewRefreshMetrics(nil)
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &CredentialWatcher{
		cache:       deps.Cache,
		store:       deps.Store,
		refresher:   deps.Refresher,
		credentials: deps.Credentials,
		syncer:      deps.Syncer,
		metrics:     metrics,
		logger:      deps.Logger,
		interval:    cfg.Interval,
		leadWindow:  cfg.LeadWindow,
		maxAttempts: cfg.MaxAttempts,
		syncEvery:   cfg.SyncEveryCycles,
		nowFn:       now,
	}, nil
}

// Start launches the tick loop. Starting a running watcher logs a warning
// and is otherwise a no-op.
func (w *CredentialWatcher) Start(ctx context.Context) {
	if w == nil {
		return
	}
	w.runMu.Lock()
	defer w.runMu.Unlock()
	if w.running {
		w.logWarn("credential watcher already running")
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.run(ctx, w.stopCh, w.doneCh)
	w.logInfo("credential watcher started", "interval", w.interval.String())
}

// Stop halts the tick loop and waits for an in-flight cycle to finish.
// Stopping an idle watcher is a no-op.
func (w *CredentialWatcher) Stop() {
	if w == nil {
		return
	}
	w.runMu.Lock()
	if !w.running {
		w.runMu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.runMu.Unlock()
	<-done
	w.logInfo("credential watcher stopped")
}

func (w *CredentialWatcher) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

// TriggerCycleNow runs one cycle synchronously, for operations tooling and
// tests. Cycles never overlap; the per-tenant gate still applies.
func (w *CredentialWatcher) TriggerCycleNow(ctx context.Context) {
	if w == nil {
		return
	}
	w.runCycle(ctx)
}

// ForceRefreshAll resets every cached tenant's attempt counter and runs a
// cycle immediately. Maintenance escape hatch: failed tenants re-enter the
// rotation.
func (w *CredentialWatcher) ForceRefreshAll(ctx context.Context) {
	if w == nil {
		return
	}
	for _, tenantID := range w.cache.TenantIDs() {
		w.cache.ResetAttempts(tenantID)
	}
	w.runCycle(ctx)
}

func (w *CredentialWatcher) runCycle(ctx context.Context) {
	w.cycleMu.Lock()
	defer w.cycleMu.Unlock()

	startedAt := w.nowFn()
	entries := w.cache.Entries()
	refreshed := 0
	failed := 0

	for _, entry := range entries {
		outcome, err := w.processTenant(ctx, entry)
		if err != nil {
			// One tenant's failure never aborts the tick for the rest.
			failed++
			w.logError("tenant refresh processing failed",
				"tenant_id", entry.TenantID,
				"provider_id", entry.ProviderID,
				"error", err.Error(),
			)
			continue
		}
		if outcome {
			refreshed++
		}
	}

	w.statsMu.Lock()
	w.stats.CyclesRun++
	runSyncer := w.syncer != nil && w.stats.CyclesRun%int64(w.syncEvery) == 0
	w.statsMu.Unlock()

	if runSyncer {
		w.reconcile(ctx)
	}

	w.statsMu.Lock()
	w.stats.LastCycleAt = startedAt
	w.stats.LastCycleDuration = w.nowFn().Sub(startedAt)
	w.stats.LastExamined = len(entries)
	w.stats.LastRefreshed = refreshed
	w.stats.LastFailed = failed
	w.statsMu.Unlock()
}

// processTenant applies the state machine to one cached entry. It returns
// true when a refresh attempt ran, whatever its outcome.
func (w *CredentialWatcher) processTenant(ctx context.Context, entry CredentialEntry) (bool, error) {
	switch entry.Status {
	case CredentialStatusFailed:
		// Out of rotation until attempts are reset externally.
		return false, nil
	case CredentialStatusRefreshing:
		// A previous trigger still owns this tenant.
		return false, nil
	}

	now := w.nowFn()
	state := ResolveTokenState(now, entry, w.leadWindow)
	if !ShouldRefresh(now, state, w.leadWindow) {
		return false, nil
	}
	if entry.RefreshAttempts >= w.maxAttempts {
		// Hydrated with a spent budget: no new attempt to classify, so the
		// entry leaves rotation without touching the counter.
		w.cache.Retire(entry.TenantID)
		return false, nil
	}

	claimed, ok := w.cache.MarkRefreshing(entry.TenantID)
	if !ok {
		return false, nil
	}
	return true, w.refreshTenant(ctx, claimed)
}

func (w *CredentialWatcher) refreshTenant(ctx context.Context, entry CredentialEntry) error {
	creds := ClientCredentials{}
	if w.credentials != nil {
		resolved, err := w.credentials.Resolve(ctx, entry.ProviderID)
		if err != nil {
			w.failTenant(ctx, entry, err, 0)
			return err
		}
		creds = resolved
	}

	w.metrics.RecordAttempt(ctx, entry.TenantID)
	startedAt := w.nowFn()
	result, err := w.refresher.Refresh(ctx, RefreshTokenRequest{
		TenantID:     entry.TenantID,
		ProviderID:   entry.ProviderID,
		RefreshToken: entry.Bundle.RefreshToken,
		Credentials:  creds,
	})
	elapsed := w.nowFn().Sub(startedAt)

	if err != nil {
		w.failTenant(ctx, entry, err, elapsed)
		return err
	}

	if result.UsedDirectFallback {
		w.metrics.RecordDirectFallback(ctx, entry.TenantID)
	}
	w.metrics.RecordSuccess(ctx, entry.TenantID, elapsed)

	if _, err := w.cache.CompleteRefresh(entry.TenantID, result.Bundle); err != nil {
		return err
	}

	// The store write is awaited; a failure is logged and retried on the
	// next tick since the in-memory state already holds the new token.
	if err := w.store.UpdateCredentials(ctx, UpdateCredentialsInput{
		TenantID: entry.TenantID,
		Bundle:   result.Bundle,
	}); err != nil {
		w.logError("durable credential write failed",
			"tenant_id", entry.TenantID,
			"error", err.Error(),
		)
	}
	w.appendAudit(ctx, entry, AuditEventRefreshSucceeded, "", "")
	w.logInfo("tenant credentials refreshed",
		"tenant_id", entry.TenantID,
		"provider_id", entry.ProviderID,
		"expires_at", result.Bundle.ExpiresAt.Format(time.RFC3339),
	)
	return nil
}

func (w *CredentialWatcher) failTenant(ctx context.Context, entry CredentialEntry, cause error, elapsed time.Duration) {
	class := Classify(cause)
	w.metrics.RecordFailure(ctx, entry.TenantID, class, elapsed)

	_, decision, err := w.cache.FailRefresh(entry.TenantID, class, w.maxAttempts)
	if err != nil {
		w.logError("refresh failure bookkeeping failed",
			"tenant_id", entry.TenantID,
			"error", err.Error(),
		)
		return
	}

	w.appendAudit(ctx, entry, AuditEventRefreshFailed, class, cause.Error())
	if !decision.RequiresReauth {
		return
	}

	reason := fmt.Sprintf("%s: %s", class, strings.TrimSpace(cause.Error()))
	if err := w.store.MarkForReauth(ctx, entry.TenantID, reason); err != nil {
		w.logError("mark for reauth failed",
			"tenant_id", entry.TenantID,
			"error", err.Error(),
		)
	}
	w.appendAudit(ctx, entry, AuditEventReauthRequired, class, cause.Error())
	w.logWarn("tenant requires reauthorization",
		"tenant_id", entry.TenantID,
		"provider_id", entry.ProviderID,
		"error_class", string(class),
	)
}

// reconcile runs the synchronizer over all cached tenants and evicts
// orphans the store no longer knows or no longer considers active.
func (w *CredentialWatcher) reconcile(ctx context.Context) {
	for _, tenantID := range w.cache.TenantIDs() {
		outcome, err := w.syncer.Sync(ctx, tenantID, SyncOptions{})
		if err != nil {
			w.logError("tenant reconciliation failed",
				"tenant_id", tenantID,
				"error", err.Error(),
			)
			continue
		}
		if !outcome.Valid {
			w.logInfo("orphaned tenant evicted", "tenant_id", tenantID)
		}
	}
}

func (w *CredentialWatcher) appendAudit(ctx context.Context, entry CredentialEntry, event AuditEventType, class ErrorClass, cause string) {
	audit := AuditEntry{
		TenantID:   entry.TenantID,
		ProviderID: entry.ProviderID,
		EventType:  event,
		ErrorClass: class,
		Error:      strings.TrimSpace(cause),
		CreatedAt:  w.nowFn(),
	}
	if err := w.store.AppendAuditEntry(ctx, audit); err != nil {
		w.logWarn("audit append failed",
			"tenant_id", entry.TenantID,
			"event_type", string(event),
			"error", err.Error(),
		)
	}
}

func (w *CredentialWatcher) Statistics() WatcherStatistics {
	if w == nil {
		return WatcherStatistics{}
	}
	w.runMu.Lock()
	running := w.running
	w.runMu.Unlock()

	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	stats := w.stats
	stats.Running = running
	return stats
}

func (w *CredentialWatcher) logInfo(message string, args ...any) {
	if w == nil || w.logger == nil {
		return
	}
	w.logger.Info(message, args...)
}

func (w *CredentialWatcher) logWarn(message string, args ...any) {
	if w == nil || w.logger == nil {
		return
	}
	w.logger.Warn(message, args...)
}

func (w *CredentialWatcher) logError(message string, args ...any) {
	if w == nil || w.logger == nil {
		return
	}
	w.logger.Error(message, args...)
}
