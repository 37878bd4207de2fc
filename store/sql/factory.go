package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-credentials/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryFactory wires the SQL-backed tenant store from a bun handle or a
// go-persistence-bun client.
type RepositoryFactory struct {
	db      *bun.DB
	codec   core.CredentialCodec
	secrets core.SecretProvider

	tenantStore *TenantIntegrationStore
}

type FactoryOption func(*RepositoryFactory)

func WithCredentialCodec(codec core.CredentialCodec) FactoryOption {
	return func(f *RepositoryFactory) {
		if codec != nil {
			f.codec = codec
		}
	}
}

func WithSecretProvider(secrets core.SecretProvider) FactoryOption {
	return func(f *RepositoryFactory) {
		f.secrets = secrets
	}
}

func NewRepositoryFactory(options ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{
		codec: core.JSONCredentialCodec{},
	}
	for _, option := range options {
		if option != nil {
			option(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, options ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(options...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, options ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(options...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.tenantStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) TenantStore() core.TenantStore {
	if f == nil || f.tenantStore == nil {
		return nil
	}
	return f.tenantStore
}

// TenantIntegrationStore exposes the concrete store for callers that need the
// seed and audit-listing helpers beyond the core contract.
func (f *RepositoryFactory) TenantIntegrationStore() *TenantIntegrationStore {
	if f == nil {
		return nil
	}
	return f.tenantStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	tenantRepo := repository.NewRepository[*tenantIntegrationRecord](f.db, tenantIntegrationHandlers())
	if validator, ok := tenantRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid tenant integration repository wiring: %w", err)
		}
	}

	auditRepo := repository.NewRepository[*auditEntryRecord](f.db, auditEntryHandlers())
	if validator, ok := auditRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid audit entry repository wiring: %w", err)
		}
	}

	f.tenantStore = &TenantIntegrationStore{
		db:        f.db,
		repo:      tenantRepo,
		auditRepo: auditRepo,
		codec:     f.codec,
		secrets:   f.secrets,
	}
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
