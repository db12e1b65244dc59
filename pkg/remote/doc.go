// Package remote fetches and initializes independently deployed code units
// ("remotes") and hands out their exposed modules.
//
// # Load Deduplication
//
// Loader guarantees at most one underlying fetch/initialize sequence per
// logical remote name per process lifetime, or until an explicit
// invalidation. Concurrent Load calls issued while a load is in flight share
// the single outstanding operation and all receive the same handle or the
// same rejection. A failed load is evicted immediately, so a later retry is
// never blocked by a cached terminal failure.
//
// # Timeouts
//
// Every load runs under the loader's bounded timeout, detached from any one
// caller's context: a caller that gives up early does not reject the load
// for everyone else still waiting.
//
// # Manifest Cache
//
// Parsed manifests are kept in a TTL-bounded LRU keyed by remote name, so a
// re-load after invalidation can skip the manifest fetch while the cached
// entry is still fresh and was fetched from the same address.
//
// # Related Packages
//
//   - pkg/resolve: produces the addresses loads are issued against
//   - pkg/composer: drives loads and applies retry policy
package remote
