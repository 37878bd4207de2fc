package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// ClientCredentials identifies the integration application at the provider.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// ClientCredentialsResolver supplies per-provider client credentials to the
// refresh path.
type ClientCredentialsResolver interface {
	Resolve(ctx context.Context, providerID string) (ClientCredentials, error)
}

// StaticClientCredentials resolves client credentials from a fixed map keyed
// by provider id.
type StaticClientCredentials map[string]ClientCredentials

func (s StaticClientCredentials) Resolve(_ context.Context, providerID string) (ClientCredentials, error) {
	creds, ok := s[providerID]
	if !ok {
		return ClientCredentials{}, NewReauthRequiredError("client credentials are not configured for provider " + providerID)
	}
	return creds, nil
}

type RefreshTokenRequest struct {
	TenantID     string
	ProviderID   string
	RefreshToken string
	Credentials  ClientCredentials
}

type RefreshTokenResult struct {
	Bundle             TokenBundle
	UsedDirectFallback bool
}

// TokenRefresher performs the refresh exchange against the managed exchange
// service or, on fallback, the provider's token endpoint directly.
type TokenRefresher interface {
	Refresh(ctx context.Context, req RefreshTokenRequest) (RefreshTokenResult, error)
}

// TokenRefresherFunc adapts a function to the TokenRefresher interface.
type TokenRefresherFunc func(ctx context.Context, req RefreshTokenRequest) (RefreshTokenResult, error)

func (f TokenRefresherFunc) Refresh(ctx context.Context, req RefreshTokenRequest) (RefreshTokenResult, error) {
	return f(ctx, req)
}

type UpdateCredentialsInput struct {
	TenantID string
	Bundle   TokenBundle
}

// TenantStore is the durable, authoritative record of tenant credentials and
// lifecycle state. The cache reconciles against it and never outlives it.
type TenantStore interface {
	Lookup(ctx context.Context, tenantID string, providerID string) (TenantRecord, bool, error)
	ListActiveTenantIDs(ctx context.Context) ([]string, error)
	UpdateCredentials(ctx context.Context, in UpdateCredentialsInput) error
	UpdateUsage(ctx context.Context, tenantID string) error
	MarkForReauth(ctx context.Context, tenantID string, reason string) error
	AppendAuditEntry(ctx context.Context, entry AuditEntry) error
}

// HandlerConfig is the opaque construction input for a protocol handler.
type HandlerConfig struct {
	TenantID   string
	ProviderID string
	Metadata   map[string]any
}

// ProtocolHandler is the long-lived per-tenant protocol object kept alive by
// the session registry. It is treated as opaque beyond its two entry points.
type ProtocolHandler interface {
	HandleMessage(ctx context.Context, message []byte) ([]byte, error)
	UpdateToken(accessToken string)
}

// HandlerFactory constructs protocol handlers from config plus the tenant's
// current access token.
type HandlerFactory interface {
	New(ctx context.Context, cfg HandlerConfig, accessToken string) (ProtocolHandler, error)
}

// Transport is a protocol-session transport handle owned by a session. The
// registry guarantees Close is invoked at most once per handle.
type Transport interface {
	ID() string
	Close(ctx context.Context) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// StoreProvider supplies wired store implementations to the service.
type StoreProvider interface {
	TenantStore() TenantStore
}

// RepositoryStoreFactory builds stores from a persistence client, keeping
// the service decoupled from the concrete database layer.
type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// SecretProvider encrypts credential payloads at rest.
type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// JobExecutionMessage is the queue contract for running watcher work on an
// external job runner instead of the built-in tickers.
type JobExecutionMessage struct {
	JobID          string
	TenantID       string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// CredentialService is the request-path and operations surface composed by
// Service and consumed by the command/query layers.
type CredentialService interface {
	GetCredential(ctx context.Context, tenantID string) (CredentialEntry, error)
	AcquireSession(ctx context.Context, cfg HandlerConfig) (ProtocolHandler, error)
	InvalidateTenant(ctx context.Context, tenantID string, reason string) error
	RefreshTenant(ctx context.Context, tenantID string) (TokenBundle, error)
	TriggerCycle(ctx context.Context) error
	ForceRefreshAll(ctx context.Context) error
	SyncTenant(ctx context.Context, tenantID string, opts SyncOptions) (SyncOutcome, error)
	Snapshot(ctx context.Context) (StatusSnapshot, error)
}
