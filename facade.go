package credentials

import (
	"context"
	"fmt"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-credentials/adapters/gocommand"
	credentialscommand "github.com/goliatone/go-credentials/command"
	"github.com/goliatone/go-credentials/core"
	credentialsquery "github.com/goliatone/go-credentials/query"
)

// CommandQueryService is the service surface the facade dispatches against.
type CommandQueryService interface {
	credentialscommand.MutatingService
	credentialsquery.SnapshotReader
	GetCredential(ctx context.Context, tenantID string) (core.CredentialEntry, error)
	AcquireSession(ctx context.Context, cfg core.HandlerConfig) (core.ProtocolHandler, error)
}

type Commands struct {
	RefreshTenant    *credentialscommand.RefreshTenantCommand
	InvalidateTenant *credentialscommand.InvalidateTenantCommand
	TriggerCycle     *credentialscommand.TriggerCycleCommand
	ForceRefreshAll  *credentialscommand.ForceRefreshAllCommand
	SyncTenant       *credentialscommand.SyncTenantCommand
}

type Queries struct {
	GetSnapshot          *credentialsquery.GetSnapshotQuery
	GetCacheStatistics   *credentialsquery.GetCacheStatisticsQuery
	GetSessionStatistics *credentialsquery.GetSessionStatisticsQuery
	GetTenantState       *credentialsquery.GetTenantStateQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	tenantStateReader credentialsquery.TenantStateReader
}

// WithTenantStateReader overrides the read-side store used by the tenant
// state query.
func WithTenantStateReader(reader credentialsquery.TenantStateReader) FacadeOption {
	return func(options *facadeOptions) {
		options.tenantStateReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("credentials: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	reader := cfg.tenantStateReader
	if reader == nil {
		reader = resolveTenantStateReader(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		RefreshTenant:    credentialscommand.NewRefreshTenantCommand(service),
		InvalidateTenant: credentialscommand.NewInvalidateTenantCommand(service),
		TriggerCycle:     credentialscommand.NewTriggerCycleCommand(service),
		ForceRefreshAll:  credentialscommand.NewForceRefreshAllCommand(service),
		SyncTenant:       credentialscommand.NewSyncTenantCommand(service),
	}
	facade.queries = Queries{
		GetSnapshot:          credentialsquery.NewGetSnapshotQuery(service),
		GetCacheStatistics:   credentialsquery.NewGetCacheStatisticsQuery(service),
		GetSessionStatistics: credentialsquery.NewGetSessionStatisticsQuery(service),
		GetTenantState:       credentialsquery.NewGetTenantStateQuery(reader),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

// Subscriptions tracks the dispatcher registrations made by Subscribe so a
// shutdown path can tear them down in one call.
type Subscriptions struct {
	subs []commanddispatcher.Subscription
}

func (s *Subscriptions) Unsubscribe() {
	if s == nil {
		return
	}
	for _, sub := range s.subs {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
	s.subs = nil
}

// Subscribe binds every facade command and query to the go-command
// dispatcher and registers them with the adapter's registry, then
// initializes the registry so resolver hooks (queue mirroring included) run.
// On any failure the registrations made so far are rolled back.
func (f *Facade) Subscribe(adapter *gocommand.RegistryAdapter) (*Subscriptions, error) {
	if f == nil {
		return nil, fmt.Errorf("credentials: facade is not configured")
	}
	if adapter == nil {
		adapter = gocommand.NewRegistryAdapter(nil)
	}

	subs := &Subscriptions{}
	track := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			return err
		}
		subs.subs = append(subs.subs, sub)
		return nil
	}

	steps := []func() error{
		func() error { return track(gocommand.RegisterAndSubscribe(adapter, f.commands.RefreshTenant)) },
		func() error { return track(gocommand.RegisterAndSubscribe(adapter, f.commands.InvalidateTenant)) },
		func() error { return track(gocommand.RegisterAndSubscribe(adapter, f.commands.TriggerCycle)) },
		func() error { return track(gocommand.RegisterAndSubscribe(adapter, f.commands.ForceRefreshAll)) },
		func() error { return track(gocommand.RegisterAndSubscribe(adapter, f.commands.SyncTenant)) },
		func() error { return track(gocommand.RegisterAndSubscribeQuery(adapter, f.queries.GetSnapshot)) },
		func() error { return track(gocommand.RegisterAndSubscribeQuery(adapter, f.queries.GetCacheStatistics)) },
		func() error {
			return track(gocommand.RegisterAndSubscribeQuery(adapter, f.queries.GetSessionStatistics))
		},
		func() error { return track(gocommand.RegisterAndSubscribeQuery(adapter, f.queries.GetTenantState)) },
		adapter.Initialize,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			subs.Unsubscribe()
			return nil, err
		}
	}
	return subs, nil
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ CommandQueryService = (*core.Service)(nil)

func resolveTenantStateReader(service CommandQueryService) credentialsquery.TenantStateReader {
	if reader, ok := service.(credentialsquery.TenantStateReader); ok {
		return reader
	}
	provider, ok := service.(interface{ TenantStore() core.TenantStore })
	if !ok {
		return nil
	}
	store := provider.TenantStore()
	if store == nil {
		return nil
	}
	return store
}
