package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	"github.com/goliatone/go-credentials/adapters/gocommand"
	credentialscommand "github.com/goliatone/go-credentials/command"
	"github.com/goliatone/go-credentials/core"
	credentialsquery "github.com/goliatone/go-credentials/query"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	svc := &stubFacadeService{}

	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	commands := facade.Commands()
	if commands.RefreshTenant == nil || commands.TriggerCycle == nil || commands.SyncTenant == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	queries := facade.Queries()
	if queries.GetSnapshot == nil || queries.GetTenantState == nil {
		t.Fatalf("expected query handlers to be wired")
	}
}

func TestFacade_CommandAndQueryDelegation(t *testing.T) {
	svc := &stubFacadeService{}

	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	if err := facade.Commands().InvalidateTenant.Execute(context.Background(), credentialscommand.InvalidateTenantMessage{
		TenantID: "tenant-1",
		Reason:   "manual",
	}); err != nil {
		t.Fatalf("execute invalidate command: %v", err)
	}
	if svc.lastInvalidateTenantID != "tenant-1" || svc.lastInvalidateReason != "manual" {
		t.Fatalf("unexpected invalidate delegation payload")
	}

	snapshot, err := facade.Queries().GetSnapshot.Query(context.Background(), credentialsquery.GetSnapshotMessage{})
	if err != nil {
		t.Fatalf("query snapshot: %v", err)
	}
	if snapshot.ServiceName != "credentials" {
		t.Fatalf("unexpected snapshot result: %#v", snapshot)
	}

	record, err := facade.Queries().GetTenantState.Query(context.Background(), credentialsquery.GetTenantStateMessage{
		TenantID: "tenant-1",
	})
	if err != nil {
		t.Fatalf("query tenant state: %v", err)
	}
	if record.TenantID != "tenant-1" || record.Status != core.TenantStatusActive {
		t.Fatalf("unexpected tenant state result: %#v", record)
	}
}

func TestFacade_SubscribeWiresDispatcherAndQueueRegistry(t *testing.T) {
	svc := &stubFacadeService{}
	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()
	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}

	subs, err := facade.Subscribe(adapter)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer subs.Unsubscribe()

	if err := gocommand.Dispatch(context.Background(), credentialscommand.InvalidateTenantMessage{
		TenantID: "tenant-9",
		Reason:   "rotation",
	}); err != nil {
		t.Fatalf("dispatch invalidate: %v", err)
	}
	if svc.lastInvalidateTenantID != "tenant-9" || svc.lastInvalidateReason != "rotation" {
		t.Fatalf("expected invalidate to reach the service through the dispatcher")
	}

	snapshot, err := gocommand.Query[credentialsquery.GetSnapshotMessage, core.StatusSnapshot](
		context.Background(), credentialsquery.GetSnapshotMessage{},
	)
	if err != nil {
		t.Fatalf("query snapshot through dispatcher: %v", err)
	}
	if snapshot.ServiceName != "credentials" {
		t.Fatalf("unexpected snapshot through dispatcher: %#v", snapshot)
	}

	if _, ok := queueRegistry.Get(credentialscommand.TypeInvalidateTenant); !ok {
		t.Fatalf("expected invalidate command mirrored into the queue registry")
	}
	if _, ok := queueRegistry.Get(credentialscommand.TypeSyncTenant); !ok {
		t.Fatalf("expected sync command mirrored into the queue registry")
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	facade, err := NewFacade(nil)
	if err == nil {
		t.Fatalf("expected nil service error")
	}
	if facade != nil {
		t.Fatalf("expected nil facade on error")
	}
}

type stubFacadeService struct {
	lastInvalidateTenantID string
	lastInvalidateReason   string
}

func (s *stubFacadeService) RefreshTenant(context.Context, string) (core.TokenBundle, error) {
	return core.TokenBundle{AccessToken: "at-1", TokenType: "bearer"}, nil
}

func (s *stubFacadeService) InvalidateTenant(_ context.Context, tenantID string, reason string) error {
	s.lastInvalidateTenantID = tenantID
	s.lastInvalidateReason = reason
	return nil
}

func (s *stubFacadeService) TriggerCycle(context.Context) error { return nil }

func (s *stubFacadeService) ForceRefreshAll(context.Context) error { return nil }

func (s *stubFacadeService) SyncTenant(context.Context, string, core.SyncOptions) (core.SyncOutcome, error) {
	return core.SyncOutcome{Valid: true}, nil
}

func (s *stubFacadeService) Snapshot(context.Context) (core.StatusSnapshot, error) {
	return core.StatusSnapshot{ServiceName: "credentials", GeneratedAt: time.Now().UTC()}, nil
}

func (s *stubFacadeService) GetCredential(context.Context, string) (core.CredentialEntry, error) {
	return core.CredentialEntry{}, nil
}

func (s *stubFacadeService) AcquireSession(context.Context, core.HandlerConfig) (core.ProtocolHandler, error) {
	return nil, nil
}

func (s *stubFacadeService) Lookup(_ context.Context, tenantID string, _ string) (core.TenantRecord, bool, error) {
	return core.TenantRecord{
		TenantID:   tenantID,
		ProviderID: "github",
		Status:     core.TenantStatusActive,
	}, true, nil
}
