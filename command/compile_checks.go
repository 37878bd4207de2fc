package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[RefreshTenantMessage]    = (*RefreshTenantCommand)(nil)
	_ gocmd.Commander[InvalidateTenantMessage] = (*InvalidateTenantCommand)(nil)
	_ gocmd.Commander[TriggerCycleMessage]     = (*TriggerCycleCommand)(nil)
	_ gocmd.Commander[ForceRefreshAllMessage]  = (*ForceRefreshAllCommand)(nil)
	_ gocmd.Commander[SyncTenantMessage]       = (*SyncTenantCommand)(nil)
)
