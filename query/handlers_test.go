package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-credentials/core"
)

type stubSnapshotReader struct {
	snapshot core.StatusSnapshot
	err      error
}

func (s stubSnapshotReader) Snapshot(context.Context) (core.StatusSnapshot, error) {
	return s.snapshot, s.err
}

type stubTenantStateReader struct {
	record core.TenantRecord
	found  bool
	err    error
}

func (s stubTenantStateReader) Lookup(_ context.Context, tenantID string, _ string) (core.TenantRecord, bool, error) {
	if tenantID == "" {
		return core.TenantRecord{}, false, fmt.Errorf("missing tenant id")
	}
	return s.record, s.found, s.err
}

func TestGetSnapshotQuery_ReturnsReaderSnapshot(t *testing.T) {
	expected := core.StatusSnapshot{
		ServiceName: "credentials",
		GeneratedAt: time.Now().UTC(),
		Cache:       core.CacheStatistics{TotalEntries: 3},
		Sessions:    core.SessionStatistics{Count: 2},
	}

	q := NewGetSnapshotQuery(stubSnapshotReader{snapshot: expected})
	snapshot, err := q.Query(context.Background(), GetSnapshotMessage{})
	if err != nil {
		t.Fatalf("query snapshot: %v", err)
	}
	if snapshot.ServiceName != "credentials" || snapshot.Cache.TotalEntries != 3 {
		t.Fatalf("unexpected snapshot: %#v", snapshot)
	}
}

func TestGetCacheStatisticsQuery_ProjectsCacheSection(t *testing.T) {
	reader := stubSnapshotReader{snapshot: core.StatusSnapshot{
		Cache: core.CacheStatistics{TotalEntries: 7, ExpiredEntries: 2},
	}}

	q := NewGetCacheStatisticsQuery(reader)
	stats, err := q.Query(context.Background(), GetCacheStatisticsMessage{})
	if err != nil {
		t.Fatalf("query cache statistics: %v", err)
	}
	if stats.TotalEntries != 7 || stats.ExpiredEntries != 2 {
		t.Fatalf("unexpected statistics: %#v", stats)
	}
}

func TestGetSessionStatisticsQuery_ProjectsSessionsSection(t *testing.T) {
	reader := stubSnapshotReader{snapshot: core.StatusSnapshot{
		Sessions: core.SessionStatistics{Count: 4},
	}}

	q := NewGetSessionStatisticsQuery(reader)
	stats, err := q.Query(context.Background(), GetSessionStatisticsMessage{})
	if err != nil {
		t.Fatalf("query session statistics: %v", err)
	}
	if stats.Count != 4 {
		t.Fatalf("unexpected statistics: %#v", stats)
	}
}

func TestGetTenantStateQuery_ReturnsRecord(t *testing.T) {
	record := core.TenantRecord{
		TenantID:   "tenant-1",
		ProviderID: "github",
		Status:     core.TenantStatusActive,
	}

	q := NewGetTenantStateQuery(stubTenantStateReader{record: record, found: true})
	got, err := q.Query(context.Background(), GetTenantStateMessage{TenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("query tenant state: %v", err)
	}
	if got.TenantID != "tenant-1" || got.Status != core.TenantStatusActive {
		t.Fatalf("unexpected record: %#v", got)
	}
}

func TestGetTenantStateQuery_MissingTenantIsNotFound(t *testing.T) {
	q := NewGetTenantStateQuery(stubTenantStateReader{found: false})
	if _, err := q.Query(context.Background(), GetTenantStateMessage{TenantID: "tenant-gone"}); err == nil {
		t.Fatalf("expected not-found error")
	}
}

func TestQueries_RequireReader(t *testing.T) {
	if _, err := (&GetSnapshotQuery{}).Query(context.Background(), GetSnapshotMessage{}); err == nil {
		t.Fatalf("expected dependency error for snapshot query")
	}
	if _, err := (&GetTenantStateQuery{}).Query(context.Background(), GetTenantStateMessage{TenantID: "tenant-1"}); err == nil {
		t.Fatalf("expected dependency error for tenant state query")
	}
}

func TestGetTenantStateMessage_Validate(t *testing.T) {
	if err := (GetTenantStateMessage{}).Validate(); err == nil {
		t.Fatalf("expected validation error for empty tenant id")
	}
	if err := (GetTenantStateMessage{TenantID: "tenant-1"}).Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}
