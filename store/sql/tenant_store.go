package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// TenantIntegrationStore persists tenant credential records and their audit
// trail in SQL. Token bundles are serialized through the configured codec and,
// when a secret provider is present, encrypted before they touch the database.
type TenantIntegrationStore struct {
	db        *bun.DB
	repo      repository.Repository[*tenantIntegrationRecord]
	auditRepo repository.Repository[*auditEntryRecord]
	codec     core.CredentialCodec
	secrets   core.SecretProvider
}

func (s *TenantIntegrationStore) Lookup(ctx context.Context, tenantID string, providerID string) (core.TenantRecord, bool, error) {
	if s == nil || s.repo == nil {
		return core.TenantRecord{}, false, fmt.Errorf("sqlstore: tenant store is not configured")
	}
	trimmedTenantID := strings.TrimSpace(tenantID)
	if trimmedTenantID == "" {
		return core.TenantRecord{}, false, fmt.Errorf("sqlstore: tenant id is required")
	}

	criteria := []repository.SelectCriteria{
		repository.SelectBy("tenant_id", "=", trimmedTenantID),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("updated_at DESC"),
		repository.SelectPaginate(1, 0),
	}
	if trimmedProviderID := strings.TrimSpace(providerID); trimmedProviderID != "" {
		criteria = append(criteria, repository.SelectBy("provider_id", "=", trimmedProviderID))
	}

	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return core.TenantRecord{}, false, err
	}
	if len(records) == 0 {
		return core.TenantRecord{}, false, nil
	}

	bundle, err := s.decodePayload(ctx, records[0].EncryptedPayload)
	if err != nil {
		return core.TenantRecord{}, false, err
	}
	return records[0].toDomain(bundle), true, nil
}

func (s *TenantIntegrationStore) ListActiveTenantIDs(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: tenant store is not configured")
	}
	var tenantIDs []string
	err := s.db.NewSelect().
		Model((*tenantIntegrationRecord)(nil)).
		ColumnExpr("DISTINCT ?TableAlias.tenant_id").
		Where("?TableAlias.status = ?", string(core.TenantStatusActive)).
		Where("?TableAlias.deleted_at IS NULL").
		Scan(ctx, &tenantIDs)
	if err != nil {
		return nil, err
	}
	return tenantIDs, nil
}

func (s *TenantIntegrationStore) UpdateCredentials(ctx context.Context, in core.UpdateCredentialsInput) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: tenant store is not configured")
	}
	current, err := s.lookupRecord(ctx, in.TenantID)
	if err != nil {
		return err
	}

	payload, err := s.encodePayload(ctx, in.Bundle)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	current.EncryptedPayload = payload
	current.PayloadFormat = s.codec.Format()
	current.PayloadVersion = s.codec.Version()
	current.Status = string(core.TenantStatusActive)
	current.RequiresReauth = false
	current.ReauthReason = ""
	current.CredentialsUpdatedAt = &now
	current.UpdatedAt = now

	_, err = s.repo.Update(ctx, current, repository.UpdateByID(current.ID))
	return err
}

func (s *TenantIntegrationStore) UpdateUsage(ctx context.Context, tenantID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: tenant store is not configured")
	}
	trimmedTenantID := strings.TrimSpace(tenantID)
	if trimmedTenantID == "" {
		return fmt.Errorf("sqlstore: tenant id is required")
	}
	_, err := s.db.NewUpdate().
		Model((*tenantIntegrationRecord)(nil)).
		Set("last_used_at = ?", time.Now().UTC()).
		Where("tenant_id = ?", trimmedTenantID).
		Where("deleted_at IS NULL").
		Exec(ctx)
	return err
}

func (s *TenantIntegrationStore) MarkForReauth(ctx context.Context, tenantID string, reason string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: tenant store is not configured")
	}
	trimmedTenantID := strings.TrimSpace(tenantID)
	if trimmedTenantID == "" {
		return fmt.Errorf("sqlstore: tenant id is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "reauthorization required"
	}
	_, err := s.db.NewUpdate().
		Model((*tenantIntegrationRecord)(nil)).
		Set("status = ?", string(core.TenantStatusNeedsReauth)).
		Set("requires_reauth = ?", true).
		Set("reauth_reason = ?", reason).
		Set("updated_at = ?", time.Now().UTC()).
		Where("tenant_id = ?", trimmedTenantID).
		Where("deleted_at IS NULL").
		Exec(ctx)
	return err
}

func (s *TenantIntegrationStore) AppendAuditEntry(ctx context.Context, entry core.AuditEntry) error {
	if s == nil || s.auditRepo == nil {
		return fmt.Errorf("sqlstore: audit store is not configured")
	}
	if strings.TrimSpace(entry.TenantID) == "" {
		return fmt.Errorf("sqlstore: audit tenant id is required")
	}
	if strings.TrimSpace(string(entry.EventType)) == "" {
		return fmt.Errorf("sqlstore: audit event type is required")
	}
	_, err := s.auditRepo.Create(ctx, newAuditEntryRecord(entry, time.Now().UTC()))
	return err
}

// CreateTenant seeds a tenant integration row, typically during the initial
// authorization handshake.
func (s *TenantIntegrationStore) CreateTenant(ctx context.Context, in core.TenantRecord) (core.TenantRecord, error) {
	if s == nil || s.repo == nil {
		return core.TenantRecord{}, fmt.Errorf("sqlstore: tenant store is not configured")
	}
	if strings.TrimSpace(in.TenantID) == "" {
		return core.TenantRecord{}, fmt.Errorf("sqlstore: tenant id is required")
	}
	if strings.TrimSpace(in.ProviderID) == "" {
		return core.TenantRecord{}, fmt.Errorf("sqlstore: provider id is required")
	}

	now := time.Now().UTC()
	record := newTenantIntegrationRecord(in, now)
	if in.Bundle.HasAccessToken() || in.Bundle.HasRefreshToken() {
		payload, err := s.encodePayload(ctx, in.Bundle)
		if err != nil {
			return core.TenantRecord{}, err
		}
		record.EncryptedPayload = payload
		record.PayloadFormat = s.codec.Format()
		record.PayloadVersion = s.codec.Version()
		if record.CredentialsUpdatedAt == nil {
			record.CredentialsUpdatedAt = &now
		}
	}

	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.TenantRecord{}, err
	}
	return created.toDomain(in.Bundle), nil
}

// ListAuditEntries returns the newest audit entries for a tenant, most recent
// first.
func (s *TenantIntegrationStore) ListAuditEntries(ctx context.Context, tenantID string, limit int) ([]core.AuditEntry, error) {
	if s == nil || s.auditRepo == nil {
		return nil, fmt.Errorf("sqlstore: audit store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	records, _, err := s.auditRepo.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.AuditEntry, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *TenantIntegrationStore) lookupRecord(ctx context.Context, tenantID string) (*tenantIntegrationRecord, error) {
	trimmedTenantID := strings.TrimSpace(tenantID)
	if trimmedTenantID == "" {
		return nil, fmt.Errorf("sqlstore: tenant id is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", trimmedTenantID),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("updated_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, core.ErrTenantNotFound
	}
	return records[0], nil
}

func (s *TenantIntegrationStore) encodePayload(ctx context.Context, bundle core.TokenBundle) ([]byte, error) {
	if s.codec == nil {
		return nil, fmt.Errorf("sqlstore: credential codec is required")
	}
	payload, err := s.codec.Encode(bundle)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encode credential payload: %w", err)
	}
	if s.secrets == nil {
		return payload, nil
	}
	encrypted, err := s.secrets.Encrypt(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encrypt credential payload: %w", err)
	}
	return encrypted, nil
}

func (s *TenantIntegrationStore) decodePayload(ctx context.Context, payload []byte) (core.TokenBundle, error) {
	if len(payload) == 0 {
		return core.TokenBundle{}, nil
	}
	if s.secrets != nil {
		decrypted, err := s.secrets.Decrypt(ctx, payload)
		if err != nil {
			return core.TokenBundle{}, fmt.Errorf("sqlstore: decrypt credential payload: %w", err)
		}
		payload = decrypted
	}
	if s.codec == nil {
		return core.TokenBundle{}, fmt.Errorf("sqlstore: credential codec is required")
	}
	bundle, err := s.codec.Decode(payload)
	if err != nil {
		return core.TokenBundle{}, fmt.Errorf("sqlstore: decode credential payload: %w", err)
	}
	return bundle, nil
}

var _ core.TenantStore = (*TenantIntegrationStore)(nil)
