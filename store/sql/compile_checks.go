package sqlstore

import "github.com/goliatone/go-credentials/core"

var (
	_ core.TenantStore            = (*TenantIntegrationStore)(nil)
	_ core.TenantStore            = (*CachedTenantStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
