package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-credentials/core"
)

var (
	_ gocmd.Querier[GetSnapshotMessage, core.StatusSnapshot]             = (*GetSnapshotQuery)(nil)
	_ gocmd.Querier[GetCacheStatisticsMessage, core.CacheStatistics]     = (*GetCacheStatisticsQuery)(nil)
	_ gocmd.Querier[GetSessionStatisticsMessage, core.SessionStatistics] = (*GetSessionStatisticsQuery)(nil)
	_ gocmd.Querier[GetTenantStateMessage, core.TenantRecord]            = (*GetTenantStateQuery)(nil)
)
