package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-credentials/core"
)

// MutatingService is the slice of the credential service that commands drive.
type MutatingService interface {
	RefreshTenant(ctx context.Context, tenantID string) (core.TokenBundle, error)
	InvalidateTenant(ctx context.Context, tenantID string, reason string) error
	TriggerCycle(ctx context.Context) error
	ForceRefreshAll(ctx context.Context) error
	SyncTenant(ctx context.Context, tenantID string, opts core.SyncOptions) (core.SyncOutcome, error)
}

type RefreshTenantCommand struct {
	service MutatingService
}

func NewRefreshTenantCommand(service MutatingService) *RefreshTenantCommand {
	return &RefreshTenantCommand{service: service}
}

func (c *RefreshTenantCommand) Execute(ctx context.Context, msg RefreshTenantMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	out, err := c.service.RefreshTenant(ctx, msg.TenantID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type InvalidateTenantCommand struct {
	service MutatingService
}

func NewInvalidateTenantCommand(service MutatingService) *InvalidateTenantCommand {
	return &InvalidateTenantCommand{service: service}
}

func (c *InvalidateTenantCommand) Execute(ctx context.Context, msg InvalidateTenantMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: invalidate service is required")
	}
	return c.service.InvalidateTenant(ctx, msg.TenantID, msg.Reason)
}

type TriggerCycleCommand struct {
	service MutatingService
}

func NewTriggerCycleCommand(service MutatingService) *TriggerCycleCommand {
	return &TriggerCycleCommand{service: service}
}

func (c *TriggerCycleCommand) Execute(ctx context.Context, _ TriggerCycleMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: cycle service is required")
	}
	return c.service.TriggerCycle(ctx)
}

type ForceRefreshAllCommand struct {
	service MutatingService
}

func NewForceRefreshAllCommand(service MutatingService) *ForceRefreshAllCommand {
	return &ForceRefreshAllCommand{service: service}
}

func (c *ForceRefreshAllCommand) Execute(ctx context.Context, _ ForceRefreshAllMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: cycle service is required")
	}
	return c.service.ForceRefreshAll(ctx)
}

type SyncTenantCommand struct {
	service MutatingService
}

func NewSyncTenantCommand(service MutatingService) *SyncTenantCommand {
	return &SyncTenantCommand{service: service}
}

func (c *SyncTenantCommand) Execute(ctx context.Context, msg SyncTenantMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	out, err := c.service.SyncTenant(ctx, msg.TenantID, core.SyncOptions{
		ForceRefresh:     msg.ForceRefresh,
		PushCacheToStore: msg.PushCacheToStore,
	})
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
