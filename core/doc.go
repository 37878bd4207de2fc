// Package core contains the canonical credential lifecycle contracts,
// entities, and orchestration logic: the in-memory credential cache, the
// background refresh watcher, the cache/store consistency synchronizer, and
// the per-tenant session registry. Adapters (sql store, refresh transport,
// job runners) must depend on this package; core must not depend on them.
package core
