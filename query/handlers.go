package query

import (
	"context"

	"github.com/goliatone/go-credentials/core"
)

// SnapshotReader exposes the combined operational view of the credential
// subsystem.
type SnapshotReader interface {
	Snapshot(ctx context.Context) (core.StatusSnapshot, error)
}

// TenantStateReader reads a tenant's durable record without touching the
// cache.
type TenantStateReader interface {
	Lookup(ctx context.Context, tenantID string, providerID string) (core.TenantRecord, bool, error)
}

type GetSnapshotQuery struct {
	reader SnapshotReader
}

func NewGetSnapshotQuery(reader SnapshotReader) *GetSnapshotQuery {
	return &GetSnapshotQuery{reader: reader}
}

func (q *GetSnapshotQuery) Query(ctx context.Context, _ GetSnapshotMessage) (core.StatusSnapshot, error) {
	if q == nil || q.reader == nil {
		return core.StatusSnapshot{}, queryDependencyError("query: snapshot reader is required")
	}
	return q.reader.Snapshot(ctx)
}

type GetCacheStatisticsQuery struct {
	reader SnapshotReader
}

func NewGetCacheStatisticsQuery(reader SnapshotReader) *GetCacheStatisticsQuery {
	return &GetCacheStatisticsQuery{reader: reader}
}

func (q *GetCacheStatisticsQuery) Query(ctx context.Context, _ GetCacheStatisticsMessage) (core.CacheStatistics, error) {
	if q == nil || q.reader == nil {
		return core.CacheStatistics{}, queryDependencyError("query: snapshot reader is required")
	}
	snapshot, err := q.reader.Snapshot(ctx)
	if err != nil {
		return core.CacheStatistics{}, err
	}
	return snapshot.Cache, nil
}

type GetSessionStatisticsQuery struct {
	reader SnapshotReader
}

func NewGetSessionStatisticsQuery(reader SnapshotReader) *GetSessionStatisticsQuery {
	return &GetSessionStatisticsQuery{reader: reader}
}

func (q *GetSessionStatisticsQuery) Query(ctx context.Context, _ GetSessionStatisticsMessage) (core.SessionStatistics, error) {
	if q == nil || q.reader == nil {
		return core.SessionStatistics{}, queryDependencyError("query: snapshot reader is required")
	}
	snapshot, err := q.reader.Snapshot(ctx)
	if err != nil {
		return core.SessionStatistics{}, err
	}
	return snapshot.Sessions, nil
}

type GetTenantStateQuery struct {
	reader TenantStateReader
}

func NewGetTenantStateQuery(reader TenantStateReader) *GetTenantStateQuery {
	return &GetTenantStateQuery{reader: reader}
}

func (q *GetTenantStateQuery) Query(ctx context.Context, msg GetTenantStateMessage) (core.TenantRecord, error) {
	if q == nil || q.reader == nil {
		return core.TenantRecord{}, queryDependencyError("query: tenant state reader is required")
	}
	record, found, err := q.reader.Lookup(ctx, msg.TenantID, msg.ProviderID)
	if err != nil {
		return core.TenantRecord{}, err
	}
	if !found {
		return core.TenantRecord{}, queryNotFoundError("query: tenant not found")
	}
	return record, nil
}
