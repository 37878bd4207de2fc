package sqlstore

import (
	"time"

	"github.com/goliatone/go-credentials/core"
)

func newTenantIntegrationRecord(in core.TenantRecord, now time.Time) *tenantIntegrationRecord {
	status := in.Status
	if string(status) == "" {
		status = core.TenantStatusActive
	}
	record := &tenantIntegrationRecord{
		TenantID:       in.TenantID,
		ProviderID:     in.ProviderID,
		OwnerUserID:    in.OwnerUserID,
		Status:         string(status),
		RequiresReauth: in.RequiresReauth,
		ReauthReason:   in.ReauthReason,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if !in.CredentialsUpdatedAt.IsZero() {
		updatedAt := in.CredentialsUpdatedAt
		record.CredentialsUpdatedAt = &updatedAt
	}
	if !in.LastUsedAt.IsZero() {
		lastUsedAt := in.LastUsedAt
		record.LastUsedAt = &lastUsedAt
	}
	return record
}

func (r *tenantIntegrationRecord) toDomain(bundle core.TokenBundle) core.TenantRecord {
	if r == nil {
		return core.TenantRecord{}
	}
	record := core.TenantRecord{
		TenantID:       r.TenantID,
		ProviderID:     r.ProviderID,
		OwnerUserID:    r.OwnerUserID,
		Status:         core.TenantStatus(r.Status),
		Bundle:         bundle,
		RequiresReauth: r.RequiresReauth,
		ReauthReason:   r.ReauthReason,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.CredentialsUpdatedAt != nil {
		record.CredentialsUpdatedAt = *r.CredentialsUpdatedAt
	}
	if r.LastUsedAt != nil {
		record.LastUsedAt = *r.LastUsedAt
	}
	return record
}

func newAuditEntryRecord(entry core.AuditEntry, now time.Time) *auditEntryRecord {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return &auditEntryRecord{
		ID:         entry.ID,
		TenantID:   entry.TenantID,
		ProviderID: entry.ProviderID,
		EventType:  string(entry.EventType),
		ErrorClass: string(entry.ErrorClass),
		Error:      entry.Error,
		Metadata:   copyAnyMap(entry.Metadata),
		CreatedAt:  createdAt,
	}
}

func (r *auditEntryRecord) toDomain() core.AuditEntry {
	if r == nil {
		return core.AuditEntry{}
	}
	return core.AuditEntry{
		ID:         r.ID,
		TenantID:   r.TenantID,
		ProviderID: r.ProviderID,
		EventType:  core.AuditEventType(r.EventType),
		ErrorClass: core.ErrorClass(r.ErrorClass),
		Error:      r.Error,
		Metadata:   copyAnyMap(r.Metadata),
		CreatedAt:  r.CreatedAt,
	}
}

func copyAnyMap(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
