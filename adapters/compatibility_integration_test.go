package adapters_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-command"
	"github.com/goliatone/go-credentials/adapters/gocommand"
	"github.com/goliatone/go-credentials/adapters/gojob"
	"github.com/goliatone/go-credentials/adapters/gologger"
	credentialscommand "github.com/goliatone/go-credentials/command"
	"github.com/goliatone/go-credentials/core"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"
)

func TestRuntimeCompatibility_GoJobGoCommandGoLogger(t *testing.T) {
	ctx := context.Background()

	logger := &compatLogger{}
	provider := &compatProvider{logger: logger}

	_, _, jobProvider, jobLogger := gologger.ResolveForJob("credentials", provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	enqueuer := &compatEnqueuer{}
	enqueueAdapter := gojob.NewEnqueuerAdapter(enqueuer)
	if err := enqueueAdapter.Enqueue(ctx, &core.JobExecutionMessage{
		JobID:          gojob.JobIDRefreshCycle,
		TenantID:       "tenant-1",
		Parameters:     map[string]any{"force_refresh": false},
		IdempotencyKey: "idem_1",
		DedupPolicy:    "drop",
	}); err != nil {
		t.Fatalf("enqueue via gojob adapter: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != gojob.JobIDRefreshCycle {
		t.Fatalf("expected go-job message mapping through enqueuer adapter")
	}
	if enqueuer.last.Parameters["tenant_id"] != "tenant-1" {
		t.Fatalf("expected tenant id to ride through go-job parameters")
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	commandAdapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := commandAdapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := commandAdapter.RegisterCommand(command.CommandFunc[compatMessage](func(context.Context, compatMessage) error {
		return nil
	})); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := commandAdapter.Initialize(); err != nil {
		t.Fatalf("initialize command registry: %v", err)
	}
	if _, ok := queueRegistry.Get("credentials.compat.command"); !ok {
		t.Fatalf("expected command resolver hook to mirror command into go-job queue registry")
	}
}

func TestRuntimeCompatibility_CommandDispatchThroughWrappers(t *testing.T) {
	svc := &compatMutatingService{}
	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())

	invalidateSub, err := gocommand.RegisterAndSubscribe(adapter, credentialscommand.NewInvalidateTenantCommand(svc))
	if err != nil {
		t.Fatalf("register invalidate wrapper: %v", err)
	}
	defer invalidateSub.Unsubscribe()

	syncSub, err := gocommand.RegisterAndSubscribe(adapter, credentialscommand.NewSyncTenantCommand(svc))
	if err != nil {
		t.Fatalf("register sync wrapper: %v", err)
	}
	defer syncSub.Unsubscribe()

	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize adapter: %v", err)
	}

	if err := gocommand.Dispatch(context.Background(), credentialscommand.InvalidateTenantMessage{
		TenantID: "tenant-1",
		Reason:   "manual",
	}); err != nil {
		t.Fatalf("dispatch invalidate: %v", err)
	}
	if svc.invalidateCalls != 1 || svc.lastInvalidateTenant != "tenant-1" || svc.lastInvalidateReason != "manual" {
		t.Fatalf("expected invalidate wrapper invocation through dispatch")
	}

	if err := gocommand.Dispatch(context.Background(), credentialscommand.SyncTenantMessage{
		TenantID:     "tenant-1",
		ForceRefresh: true,
	}); err != nil {
		t.Fatalf("dispatch sync: %v", err)
	}
	if svc.syncCalls != 1 || svc.lastSyncTenant != "tenant-1" || !svc.lastSyncOptions.ForceRefresh {
		t.Fatalf("expected sync wrapper invocation through dispatch")
	}
}

type compatMessage struct{}

func (compatMessage) Type() string { return "credentials.compat.command" }

type compatEnqueuer struct {
	last *job.ExecutionMessage
}

func (e *compatEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	e.last = msg
	var receipt queue.EnqueueReceipt
	return receipt, nil
}

type compatProvider struct {
	logger glog.Logger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type compatLogger struct{}

func (compatLogger) Trace(string, ...any)                    {}
func (compatLogger) Debug(string, ...any)                    {}
func (compatLogger) Info(string, ...any)                     {}
func (compatLogger) Warn(string, ...any)                     {}
func (compatLogger) Error(string, ...any)                    {}
func (compatLogger) Fatal(string, ...any)                    {}
func (compatLogger) WithContext(context.Context) glog.Logger { return compatLogger{} }

type compatMutatingService struct {
	invalidateCalls      int
	lastInvalidateTenant string
	lastInvalidateReason string
	syncCalls            int
	lastSyncTenant       string
	lastSyncOptions      core.SyncOptions
}

func (s *compatMutatingService) RefreshTenant(context.Context, string) (core.TokenBundle, error) {
	return core.TokenBundle{}, nil
}

func (s *compatMutatingService) InvalidateTenant(_ context.Context, tenantID string, reason string) error {
	s.invalidateCalls++
	s.lastInvalidateTenant = tenantID
	s.lastInvalidateReason = reason
	return nil
}

func (s *compatMutatingService) TriggerCycle(context.Context) error {
	return nil
}

func (s *compatMutatingService) ForceRefreshAll(context.Context) error {
	return nil
}

func (s *compatMutatingService) SyncTenant(_ context.Context, tenantID string, opts core.SyncOptions) (core.SyncOutcome, error) {
	s.syncCalls++
	s.lastSyncTenant = tenantID
	s.lastSyncOptions = opts
	return core.SyncOutcome{}, nil
}
