package remote

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

const (
	defaultLoadTimeout      = 10 * time.Second
	defaultManifestCacheTTL = 5 * time.Minute
	manifestCacheEntries    = 128
)

// Handle is a reference to a loaded, initialized remote. Modules are
// requested through it by logical path.
type Handle struct {
	Name     string
	Address  string
	Manifest *Manifest
	LoadedAt time.Time

	mu      sync.Mutex
	modules map[string][]byte
}

// loadState is the in-flight-or-resolved future for one remote name. The
// first caller populates it; everyone else awaits done.
type loadState struct {
	done   chan struct{}
	handle *Handle
	err    error
}

// cachedManifest remembers which address a manifest came from, so an address
// change (e.g. a canary override) always forces a fresh fetch.
type cachedManifest struct {
	address  string
	manifest *Manifest
}

// Stats counts loader activity for diagnostics.
type Stats struct {
	LoadsStarted      int64 `json:"loads_started"`
	LoadsDeduplicated int64 `json:"loads_deduplicated"`
	LoadFailures      int64 `json:"load_failures"`
	ManifestCacheHits int64 `json:"manifest_cache_hits"`
	ModuleFetches     int64 `json:"module_fetches"`
}

// Loader fetches and initializes remotes with per-name load deduplication.
type Loader struct {
	fetcher ResourceFetcher
	timeout time.Duration
	log     *logrus.Logger

	mu       sync.Mutex
	inflight map[string]*loadState

	manifests *lru.LRU[string, cachedManifest]

	loadsStarted      atomic.Int64
	loadsDeduped      atomic.Int64
	loadFailures      atomic.Int64
	manifestCacheHits atomic.Int64
	moduleFetches     atomic.Int64
}

// Option configures a Loader.
type Option func(*Loader)

// WithTimeout bounds each underlying load.
func WithTimeout(timeout time.Duration) Option {
	return func(l *Loader) {
		if timeout > 0 {
			l.timeout = timeout
		}
	}
}

// WithManifestCacheTTL bounds how long parsed manifests are reused after an
// invalidation.
func WithManifestCacheTTL(ttl time.Duration) Option {
	return func(l *Loader) {
		if ttl > 0 {
			l.manifests = lru.NewLRU[string, cachedManifest](manifestCacheEntries, nil, ttl)
		}
	}
}

// NewLoader creates a loader over the given fetcher. A nil logger defaults
// to the standard one.
func NewLoader(fetcher ResourceFetcher, log *logrus.Logger, opts ...Option) *Loader {
	if log == nil {
		log = logrus.New()
	}

	l := &Loader{
		fetcher:   fetcher,
		timeout:   defaultLoadTimeout,
		log:       log,
		inflight:  make(map[string]*loadState),
		manifests: lru.NewLRU[string, cachedManifest](manifestCacheEntries, nil, defaultManifestCacheTTL),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load ensures the remote named name is fetched and initialized exactly once
// and returns its handle. Concurrent calls for the same name share one
// underlying operation; a caller whose context expires gets its context
// error while the shared load continues for the others. A failed load is
// evicted so a subsequent call can re-attempt. A settled load whose address
// no longer matches (an override changed between passes) is evicted and
// refetched.
func (l *Loader) Load(ctx context.Context, name, address string) (*Handle, error) {
	l.mu.Lock()
	st, exists := l.inflight[name]
	if exists {
		select {
		case <-st.done:
			if st.handle != nil && st.handle.Address != address {
				delete(l.inflight, name)
				exists = false
			}
		default:
		}
	}
	if !exists {
		st = &loadState{done: make(chan struct{})}
		l.inflight[name] = st
		l.loadsStarted.Add(1)
		go l.doLoad(name, address, st)
	} else {
		l.loadsDeduped.Add(1)
	}
	l.mu.Unlock()

	select {
	case <-st.done:
		return st.handle, st.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Module returns the raw bytes of a module exposed by a loaded remote,
// fetching it on first request and caching it on the handle.
func (l *Loader) Module(ctx context.Context, handle *Handle, modulePath string) ([]byte, error) {
	if handle == nil || handle.Manifest == nil {
		return nil, fmt.Errorf("module %s: remote handle is not loaded", modulePath)
	}

	handle.mu.Lock()
	if data, ok := handle.modules[modulePath]; ok {
		handle.mu.Unlock()
		return data, nil
	}
	handle.mu.Unlock()

	spec, ok := handle.Manifest.ExposedModules[modulePath]
	if !ok {
		return nil, fmt.Errorf("remote %s does not expose module %q", handle.Name, modulePath)
	}

	address, err := resolveModuleURL(handle.Address, spec.URL)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", modulePath, err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	l.moduleFetches.Add(1)
	data, err := l.fetcher.Fetch(fetchCtx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch module %s from %s: %w", modulePath, handle.Name, err)
	}

	handle.mu.Lock()
	if handle.modules == nil {
		handle.modules = make(map[string][]byte)
	}
	handle.modules[modulePath] = data
	handle.mu.Unlock()

	return data, nil
}

// Invalidate evicts a remote's resolved load and cached manifest, forcing
// the next Load to fetch again.
func (l *Loader) Invalidate(name string) {
	l.mu.Lock()
	st, exists := l.inflight[name]
	// Never evict a load that is still settling; its own completion path
	// handles failure eviction.
	if exists {
		select {
		case <-st.done:
			delete(l.inflight, name)
		default:
		}
	}
	l.mu.Unlock()

	l.manifests.Remove(name)
}

// InvalidateAll evicts every settled load and cached manifest.
func (l *Loader) InvalidateAll() {
	l.mu.Lock()
	for name, st := range l.inflight {
		select {
		case <-st.done:
			delete(l.inflight, name)
		default:
		}
	}
	l.mu.Unlock()

	l.manifests.Purge()
}

// Stats returns a snapshot of loader counters.
func (l *Loader) Stats() Stats {
	return Stats{
		LoadsStarted:      l.loadsStarted.Load(),
		LoadsDeduplicated: l.loadsDeduped.Load(),
		LoadFailures:      l.loadFailures.Load(),
		ManifestCacheHits: l.manifestCacheHits.Load(),
		ModuleFetches:     l.moduleFetches.Load(),
	}
}

// doLoad performs the underlying fetch/initialize sequence. It runs under
// the loader's own deadline, detached from any caller context, so one
// impatient caller cannot reject the load for everyone.
func (l *Loader) doLoad(name, address string, st *loadState) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	handle, err := l.fetchRemote(ctx, name, address)

	l.mu.Lock()
	st.handle = handle
	st.err = err
	if err != nil {
		// Transient: evict so a retry can re-attempt.
		l.loadFailures.Add(1)
		delete(l.inflight, name)
	}
	close(st.done)
	l.mu.Unlock()

	if err != nil {
		l.log.WithError(err).WithField("remote", name).Warn("remote load failed")
	} else {
		l.log.WithFields(logrus.Fields{
			"remote":  name,
			"address": address,
			"version": handle.Manifest.Version,
		}).Info("remote loaded")
	}
}

func (l *Loader) fetchRemote(ctx context.Context, name, address string) (*Handle, error) {
	manifest, err := l.manifestFor(ctx, name, address)
	if err != nil {
		return nil, err
	}

	return &Handle{
		Name:     name,
		Address:  address,
		Manifest: manifest,
		LoadedAt: time.Now().UTC(),
	}, nil
}

func (l *Loader) manifestFor(ctx context.Context, name, address string) (*Manifest, error) {
	if cached, ok := l.manifests.Get(name); ok && cached.address == address {
		l.manifestCacheHits.Add(1)
		return cached.manifest, nil
	}

	data, err := l.fetcher.Fetch(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to load remote %s: %w", name, err)
	}

	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load remote %s: %w", name, err)
	}

	if manifest.Name != name {
		l.log.WithFields(logrus.Fields{
			"requested": name,
			"declared":  manifest.Name,
		}).Warn("remote manifest declares a different logical name")
	}

	l.manifests.Add(name, cachedManifest{address: address, manifest: manifest})
	return manifest, nil
}

// resolveModuleURL joins a module's url with the manifest address when the
// url is relative.
func resolveModuleURL(base, ref string) (string, error) {
	if strings.Contains(ref, "://") {
		return ref, nil
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid remote address %q: %w", base, err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid module url %q: %w", ref, err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}
