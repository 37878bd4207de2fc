package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type tenantIntegrationRecord struct {
	bun.BaseModel `bun:"table:tenant_integrations,alias:ti"`

	ID                   string     `bun:"id,pk"`
	TenantID             string     `bun:"tenant_id,notnull"`
	ProviderID           string     `bun:"provider_id,notnull"`
	OwnerUserID          string     `bun:"owner_user_id"`
	Status               string     `bun:"status,notnull"`
	EncryptedPayload     []byte     `bun:"encrypted_payload"`
	PayloadFormat        string     `bun:"payload_format"`
	PayloadVersion       int        `bun:"payload_version"`
	RequiresReauth       bool       `bun:"requires_reauth,notnull"`
	ReauthReason         string     `bun:"reauth_reason"`
	CredentialsUpdatedAt *time.Time `bun:"credentials_updated_at,nullzero"`
	LastUsedAt           *time.Time `bun:"last_used_at,nullzero"`
	CreatedAt            time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt            time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt            *time.Time `bun:"deleted_at,soft_delete"`
}

type auditEntryRecord struct {
	bun.BaseModel `bun:"table:credential_audit_entries,alias:cae"`

	ID         string         `bun:"id,pk"`
	TenantID   string         `bun:"tenant_id,notnull"`
	ProviderID string         `bun:"provider_id,notnull"`
	EventType  string         `bun:"event_type,notnull"`
	ErrorClass string         `bun:"error_class"`
	Error      string         `bun:"error"`
	Metadata   map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
