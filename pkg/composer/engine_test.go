package composer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-io/tessera/pkg/platform"
	"github.com/tessera-io/tessera/pkg/registry"
	"github.com/tessera-io/tessera/pkg/remote"
	"github.com/tessera-io/tessera/pkg/resolve"
)

// stubFetcher serves canned documents by address, with optional per-address
// failures and delays.
type stubFetcher struct {
	mu     sync.Mutex
	docs   map[string][]byte
	errs   map[string]error
	delays map[string]time.Duration
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		docs:   make(map[string][]byte),
		errs:   make(map[string]error),
		delays: make(map[string]time.Duration),
	}
}

func (f *stubFetcher) Fetch(ctx context.Context, address string) ([]byte, error) {
	f.mu.Lock()
	delay := f.delays[address]
	failure := f.errs[address]
	doc, ok := f.docs[address]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}
	if !ok {
		return nil, errors.New("address not found")
	}
	return doc, nil
}

func (f *stubFetcher) serveJSON(address string, v interface{}) {
	data, _ := json.Marshal(v)
	f.mu.Lock()
	f.docs[address] = data
	f.mu.Unlock()
}

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

const (
	platformAddr = "https://cdn.example.com/platform.json"
	filesAddr    = "https://cdn.example.com/files/manifest.json"
	reportsAddr  = "https://cdn.example.com/reports/manifest.json"
)

// fixture wires a full engine over a stub fetcher with two enabled tabs
// (files, reports) and one disabled tab (archive).
type fixture struct {
	fetcher  *stubFetcher
	registry *registry.Registry
	engine   *Engine
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	fetcher := newStubFetcher()

	fetcher.serveJSON(platformAddr, map[string]interface{}{
		"version":  "1.0.0",
		"platform": map[string]interface{}{"name": "console"},
		"tabs": []map[string]interface{}{
			{
				"id":     "files",
				"order":  1,
				"remote": map[string]interface{}{"name": "files_tab", "modulePath": "./plugin"},
			},
			{
				"id":     "reports",
				"order":  2,
				"remote": map[string]interface{}{"name": "reports_tab", "modulePath": "./plugin"},
			},
			{
				"id":      "archive",
				"enabled": false,
				"order":   3,
				"remote":  map[string]interface{}{"name": "archive_tab", "modulePath": "./plugin"},
			},
		},
	})

	serveRemote(fetcher, "files_tab", filesAddr, map[string]interface{}{
		"id":          "files",
		"displayName": "Files",
		"version":     "1.2.0",
		"order":       1,
		"render":      "files/render",
	})
	serveRemote(fetcher, "reports_tab", reportsAddr, map[string]interface{}{
		"id":          "reports",
		"displayName": "Reports",
		"version":     "2.0.0",
		"order":       2,
		"render":      "reports/render",
	})

	reg := registry.New(nil, quietLog())
	loader := remote.NewLoader(fetcher, quietLog(), remote.WithTimeout(500*time.Millisecond))
	configLoader := platform.NewLoader(platform.Chain{
		DefaultAddress: platformAddr,
		Fetcher:        fetcher,
	}, quietLog())

	if opts.Sources == nil {
		defaults := resolve.NewMapSource(map[string]string{
			"files_tab":   filesAddr,
			"reports_tab": reportsAddr,
		})
		opts.Sources = func(ctx context.Context) (resolve.Sources, error) {
			return resolve.Sources{Defaults: defaults}, nil
		}
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond}
	}

	engine := NewEngine(configLoader, resolve.NewResolver(quietLog()), loader, reg, opts, quietLog())
	return &fixture{fetcher: fetcher, registry: reg, engine: engine}
}

// serveRemote publishes a manifest at addr whose ./plugin module yields the
// given descriptor document.
func serveRemote(fetcher *stubFetcher, name, addr string, desc map[string]interface{}) {
	moduleAddr := addr + "/plugin.json"
	fetcher.serveJSON(addr, map[string]interface{}{
		"name":    name,
		"version": "1.0.0",
		"exposedModules": map[string]interface{}{
			"./plugin": map[string]interface{}{"url": moduleAddr},
		},
	})
	fetcher.serveJSON(moduleAddr, desc)
}

func TestEngine_Initialize_ComposesEnabledTabs(t *testing.T) {
	f := newFixture(t, Options{})

	report, err := f.engine.Initialize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Registered)
	assert.Equal(t, 0, report.Failed)
	assert.True(t, report.Published)
	assert.Equal(t, "default", report.ConfigSource)

	// The disabled tab is excluded entirely, not recorded as failed.
	enabled := f.registry.GetEnabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "files", enabled[0].Descriptor.ID)
	assert.Equal(t, "reports", enabled[1].Descriptor.ID)
}

func TestEngine_Initialize_Idempotent(t *testing.T) {
	f := newFixture(t, Options{})

	first, err := f.engine.Initialize(context.Background())
	require.NoError(t, err)
	firstIDs := registryIDs(f.registry)

	second, err := f.engine.Initialize(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, firstIDs, registryIDs(f.registry))
}

func TestEngine_FailedLoadIsIsolated(t *testing.T) {
	f := newFixture(t, Options{})
	f.fetcher.mu.Lock()
	f.fetcher.errs[reportsAddr] = errors.New("connection refused")
	f.fetcher.mu.Unlock()

	report, err := f.engine.Initialize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Registered)
	assert.Equal(t, 1, report.Failed)

	failed := report.FailedPlugins()
	require.Len(t, failed, 1)
	assert.Equal(t, "reports", failed[0].TabID)
	assert.Equal(t, FailureLoad, failed[0].Kind)
	assert.Contains(t, failed[0].Reason, "connection refused")

	// The healthy plugin still composed.
	enabled := f.registry.GetEnabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "files", enabled[0].Descriptor.ID)
}

func TestEngine_LoadTimeoutIsIsolated(t *testing.T) {
	f := newFixture(t, Options{})
	f.fetcher.mu.Lock()
	f.fetcher.delays[reportsAddr] = 2 * time.Second
	f.fetcher.mu.Unlock()

	report, err := f.engine.Initialize(context.Background())
	require.NoError(t, err)

	failed := report.FailedPlugins()
	require.Len(t, failed, 1)
	assert.Equal(t, "reports", failed[0].TabID)
	assert.Equal(t, FailureLoad, failed[0].Kind)

	enabled := f.registry.GetEnabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "files", enabled[0].Descriptor.ID)
}

func TestEngine_LoadRetriesThenFails(t *testing.T) {
	f := newFixture(t, Options{
		Retry: RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	f.fetcher.mu.Lock()
	f.fetcher.errs[reportsAddr] = errors.New("connection refused")
	f.fetcher.mu.Unlock()

	report, err := f.engine.Initialize(context.Background())
	require.NoError(t, err)

	failed := report.FailedPlugins()
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].Attempts)
}

func TestEngine_InvalidDescriptorIsValidationFailure(t *testing.T) {
	f := newFixture(t, Options{})
	// Reports now serves a descriptor with no id or render entry point.
	serveRemote(f.fetcher, "reports_tab", reportsAddr, map[string]interface{}{
		"displayName": "Reports",
	})

	report, err := f.engine.Initialize(context.Background())
	require.NoError(t, err)

	failed := report.FailedPlugins()
	require.Len(t, failed, 1)
	assert.Equal(t, FailureValidation, failed[0].Kind)
	assert.Contains(t, failed[0].Reason, "id is required")
}

func TestEngine_UnresolvableRemoteFails(t *testing.T) {
	defaults := resolve.NewMapSource(map[string]string{"files_tab": filesAddr})
	f := newFixture(t, Options{
		Sources: func(ctx context.Context) (resolve.Sources, error) {
			return resolve.Sources{Defaults: defaults}, nil
		},
	})

	report, err := f.engine.Initialize(context.Background())
	require.NoError(t, err)

	failed := report.FailedPlugins()
	require.Len(t, failed, 1)
	assert.Equal(t, "reports", failed[0].TabID)
	assert.Equal(t, FailureLoad, failed[0].Kind)
}

func TestEngine_ConfigOverridesDisplayFieldsOnly(t *testing.T) {
	f := newFixture(t, Options{})
	f.fetcher.serveJSON(platformAddr, map[string]interface{}{
		"version":  "1.0.0",
		"platform": map[string]interface{}{"name": "console"},
		"tabs": []map[string]interface{}{
			{
				"id":     "files",
				"order":  1,
				"remote": map[string]interface{}{"name": "files_tab", "modulePath": "./plugin"},
				"config": map[string]interface{}{
					"displayName": "Documents",
					"order":       9,
					"id":          "hijacked",
					"render":      "evil/render",
				},
			},
		},
	})

	_, err := f.engine.Initialize(context.Background())
	require.NoError(t, err)

	entry, ok := f.registry.Get("files")
	require.True(t, ok, "identity must come from the descriptor, not overrides")
	assert.Equal(t, "Documents", entry.Descriptor.DisplayName)
	assert.Equal(t, 9, entry.Descriptor.Order)
	assert.Equal(t, "files/render", entry.Descriptor.Render)
}

func TestEngine_TabOrderGovernsEnumeration(t *testing.T) {
	f := newFixture(t, Options{})
	// The document puts reports first even though both remotes declare their
	// own orders (files=1, reports=2).
	f.fetcher.serveJSON(platformAddr, map[string]interface{}{
		"version":  "1.0.0",
		"platform": map[string]interface{}{"name": "console"},
		"tabs": []map[string]interface{}{
			{
				"id":     "files",
				"order":  5,
				"remote": map[string]interface{}{"name": "files_tab", "modulePath": "./plugin"},
			},
			{
				"id":     "reports",
				"order":  1,
				"remote": map[string]interface{}{"name": "reports_tab", "modulePath": "./plugin"},
			},
		},
	})

	_, err := f.engine.Initialize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"reports", "files"}, registryIDs(f.registry))

	entry, ok := f.registry.Get("files")
	require.True(t, ok)
	assert.Equal(t, 5, entry.Descriptor.Order)
}

func TestEngine_ReloadWith_RequestTierWinsForOnePass(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.engine.Initialize(context.Background())
	require.NoError(t, err)

	canaryAddr := "https://canary.example.com/files/manifest.json"
	serveRemote(f.fetcher, "files_tab", canaryAddr, map[string]interface{}{
		"id":          "files",
		"displayName": "Files (canary)",
		"version":     "1.3.0",
		"order":       1,
		"render":      "files/render",
	})

	report, err := f.engine.ReloadWith(context.Background(),
		resolve.NewMapSource(map[string]string{"files_tab": canaryAddr}))
	require.NoError(t, err)

	files := pluginStatus(t, report, "files")
	assert.Equal(t, resolve.TierRequest, files.Tier)
	assert.Equal(t, canaryAddr, files.Address)

	entry, ok := f.registry.Get("files")
	require.True(t, ok)
	assert.Equal(t, "Files (canary)", entry.Descriptor.DisplayName)

	// The override lives only for that pass: a plain reload resolves through
	// the chain again.
	report, err = f.engine.Reload(context.Background())
	require.NoError(t, err)

	files = pluginStatus(t, report, "files")
	assert.Equal(t, resolve.TierDefault, files.Tier)
	assert.Equal(t, filesAddr, files.Address)

	entry, ok = f.registry.Get("files")
	require.True(t, ok)
	assert.Equal(t, "Files", entry.Descriptor.DisplayName)
}

func TestEngine_ReloadSwapsSnapshotAtomically(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.engine.Initialize(context.Background())
	require.NoError(t, err)
	require.Len(t, f.registry.GetEnabled(), 2)

	// Subscribers must never observe a half-swapped registry: during the
	// reload's event storm, the entry set is always internally consistent.
	f.registry.Subscribe(func(registry.Event) {
		count := f.registry.Count()
		assert.True(t, count == 1 || count == 2, "observed %d entries mid-swap", count)
	})

	// New config drops the reports tab.
	f.fetcher.serveJSON(platformAddr, map[string]interface{}{
		"version":  "1.1.0",
		"platform": map[string]interface{}{"name": "console"},
		"tabs": []map[string]interface{}{
			{
				"id":     "files",
				"order":  1,
				"remote": map[string]interface{}{"name": "files_tab", "modulePath": "./plugin"},
			},
		},
	})

	report, err := f.engine.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Published)

	assert.Equal(t, []string{"files"}, registryIDs(f.registry))
}

func TestEngine_StatusBeforeFirstPass(t *testing.T) {
	f := newFixture(t, Options{})

	assert.Nil(t, f.engine.Status())
	assert.Error(t, f.engine.HealthCheck(context.Background()))

	_, err := f.engine.Initialize(context.Background())
	require.NoError(t, err)

	assert.NotNil(t, f.engine.Status())
	assert.NoError(t, f.engine.HealthCheck(context.Background()))
}

func TestEngine_Remotes(t *testing.T) {
	f := newFixture(t, Options{})

	remotes, err := f.engine.Remotes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, remotes, "no config loaded yet")

	_, err = f.engine.Initialize(context.Background())
	require.NoError(t, err)

	remotes, err = f.engine.Remotes(context.Background())
	require.NoError(t, err)
	require.Len(t, remotes, 2)
	assert.Equal(t, "files_tab", remotes[0].Name)
	assert.Equal(t, filesAddr, remotes[0].Address)
}

func pluginStatus(t *testing.T, report *PassReport, tabID string) PluginStatus {
	t.Helper()
	for _, st := range report.Plugins {
		if st.TabID == tabID {
			return st
		}
	}
	t.Fatalf("no status recorded for tab %s", tabID)
	return PluginStatus{}
}

func registryIDs(reg *registry.Registry) []string {
	entries := reg.GetAll()
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Descriptor.ID)
	}
	return ids
}
