package command

import (
	"fmt"
	"strings"
)

const (
	TypeRefreshTenant    = "credentials.command.tenant.refresh"
	TypeInvalidateTenant = "credentials.command.tenant.invalidate"
	TypeTriggerCycle     = "credentials.command.cycle.trigger"
	TypeForceRefreshAll  = "credentials.command.cycle.force_refresh_all"
	TypeSyncTenant       = "credentials.command.tenant.sync"
)

type RefreshTenantMessage struct {
	TenantID string
}

func (RefreshTenantMessage) Type() string { return TypeRefreshTenant }

func (m RefreshTenantMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("command: tenant id is required")
	}
	return nil
}

type InvalidateTenantMessage struct {
	TenantID string
	Reason   string
}

func (InvalidateTenantMessage) Type() string { return TypeInvalidateTenant }

func (m InvalidateTenantMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("command: tenant id is required")
	}
	return nil
}

type TriggerCycleMessage struct{}

func (TriggerCycleMessage) Type() string { return TypeTriggerCycle }

func (TriggerCycleMessage) Validate() error { return nil }

type ForceRefreshAllMessage struct{}

func (ForceRefreshAllMessage) Type() string { return TypeForceRefreshAll }

func (ForceRefreshAllMessage) Validate() error { return nil }

type SyncTenantMessage struct {
	TenantID         string
	ForceRefresh     bool
	PushCacheToStore bool
}

func (SyncTenantMessage) Type() string { return TypeSyncTenant }

func (m SyncTenantMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("command: tenant id is required")
	}
	return nil
}
