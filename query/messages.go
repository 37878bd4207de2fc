package query

import (
	"fmt"
	"strings"
)

const (
	TypeGetSnapshot          = "credentials.query.snapshot.get"
	TypeGetCacheStatistics   = "credentials.query.cache.statistics"
	TypeGetSessionStatistics = "credentials.query.sessions.statistics"
	TypeGetTenantState       = "credentials.query.tenant.state"
)

type GetSnapshotMessage struct{}

func (GetSnapshotMessage) Type() string { return TypeGetSnapshot }

func (GetSnapshotMessage) Validate() error { return nil }

type GetCacheStatisticsMessage struct{}

func (GetCacheStatisticsMessage) Type() string { return TypeGetCacheStatistics }

func (GetCacheStatisticsMessage) Validate() error { return nil }

type GetSessionStatisticsMessage struct{}

func (GetSessionStatisticsMessage) Type() string { return TypeGetSessionStatistics }

func (GetSessionStatisticsMessage) Validate() error { return nil }

type GetTenantStateMessage struct {
	TenantID   string
	ProviderID string
}

func (GetTenantStateMessage) Type() string { return TypeGetTenantState }

func (m GetTenantStateMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("query: tenant id is required")
	}
	return nil
}
