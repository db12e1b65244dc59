package composer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tessera-io/tessera/pkg/descriptor"
	"github.com/tessera-io/tessera/pkg/observability"
	"github.com/tessera-io/tessera/pkg/platform"
	"github.com/tessera-io/tessera/pkg/registry"
	"github.com/tessera-io/tessera/pkg/remote"
	"github.com/tessera-io/tessera/pkg/resolve"
)

const defaultConcurrency = 4

// SnapshotFunc builds the override chain snapshot used for one pass. Live
// tiers (redis, files) are read here, once, so resolution inside the pass
// stays pure.
type SnapshotFunc func(ctx context.Context) (resolve.Sources, error)

// Options tunes an Engine.
type Options struct {
	// Sources builds the override chain per pass. Nil means no tier has an
	// opinion and every tab fails resolution.
	Sources SnapshotFunc

	// Retry governs re-attempts of failed remote loads within a pass.
	Retry RetryConfig

	// Concurrency bounds simultaneous tab loads. Defaults to 4.
	Concurrency int

	// Metrics is optional.
	Metrics *observability.Metrics
}

// Engine runs composition passes over the platform config, the resolver, the
// remote loader, and the registry.
type Engine struct {
	config      *platform.Loader
	resolver    *resolve.Resolver
	loader      *remote.Loader
	registry    *registry.Registry
	sources     SnapshotFunc
	retry       *RetryPolicy
	concurrency int
	metrics     *observability.Metrics
	log         *logrus.Logger
	tracer      trace.Tracer

	initMu sync.Mutex

	mu          sync.Mutex
	initialized bool
	generation  uint64
	published   uint64
	lastReport  *PassReport
	lastConfig  *platform.Config
	lastStats   remote.Stats
}

// NewEngine wires an engine. A nil logger defaults to the standard one.
func NewEngine(config *platform.Loader, resolver *resolve.Resolver, loader *remote.Loader, reg *registry.Registry, opts Options, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &Engine{
		config:      config,
		resolver:    resolver,
		loader:      loader,
		registry:    reg,
		sources:     opts.Sources,
		retry:       NewRetryPolicy(opts.Retry),
		concurrency: concurrency,
		metrics:     opts.Metrics,
		log:         log,
		tracer:      otel.Tracer("tessera/composer"),
	}
}

// Initialize runs the first composition pass. It is idempotent: once a pass
// has completed, further calls return the stored report without recomposing.
// Use Reload to force a new pass.
func (e *Engine) Initialize(ctx context.Context) (*PassReport, error) {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	e.mu.Lock()
	if e.initialized {
		report := e.lastReport
		e.mu.Unlock()
		return report, nil
	}
	e.mu.Unlock()

	report, err := e.pass(ctx, "initialize", nil)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.initialized = true
	e.mu.Unlock()
	return report, nil
}

// Reload runs a fresh composition pass. It may be called while another pass
// is still settling; only the newest pass publishes its snapshot.
func (e *Engine) Reload(ctx context.Context) (*PassReport, error) {
	return e.ReloadWith(ctx, nil)
}

// ReloadWith runs a fresh composition pass with request-scoped address
// overrides layered above every other tier. The overrides live only for this
// pass; nothing is persisted.
func (e *Engine) ReloadWith(ctx context.Context, request resolve.KeyValueSource) (*PassReport, error) {
	report, err := e.pass(ctx, "reload", request)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.initialized = true
	e.mu.Unlock()
	return report, nil
}

// Status returns the most recent pass report, or nil before the first pass.
func (e *Engine) Status() *PassReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReport
}

// HealthCheck reports readiness: an error until a pass has completed.
func (e *Engine) HealthCheck(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastReport == nil {
		return fmt.Errorf("no composition pass has completed")
	}
	return nil
}

// Remotes resolves the enabled tabs of the last loaded config against a
// fresh override snapshot. Used by the health monitor.
func (e *Engine) Remotes(ctx context.Context) ([]resolve.Resolved, error) {
	e.mu.Lock()
	cfg := e.lastConfig
	e.mu.Unlock()

	if cfg == nil {
		return nil, nil
	}

	sources, err := e.snapshotSources(ctx)
	if err != nil {
		return nil, err
	}

	var resolved []resolve.Resolved
	for _, tab := range cfg.EnabledTabs() {
		res, err := e.resolver.Resolve(tab.Remote.Name, sources)
		if err != nil {
			continue
		}
		resolved = append(resolved, res)
	}
	return resolved, nil
}

// pass runs one full composition pass and publishes its snapshot unless a
// newer pass has published first.
func (e *Engine) pass(ctx context.Context, trigger string, request resolve.KeyValueSource) (*PassReport, error) {
	ctx, span := e.tracer.Start(ctx, "composer.pass",
		trace.WithAttributes(attribute.String("trigger", trigger)))
	defer span.End()

	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	report := &PassReport{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}
	span.SetAttributes(attribute.String("pass_id", report.ID))

	cfg, configSource, err := e.config.Load(ctx)
	if err != nil {
		// The only hard failure: no tier yielded a valid config document.
		e.countPass(trigger, "config_error")
		return nil, fmt.Errorf("composition pass aborted: %w", err)
	}
	report.ConfigSource = configSource

	sources, err := e.snapshotSources(ctx)
	if err != nil {
		// Resolution proceeds over an empty chain; every tab surfaces a
		// per-plugin failure instead of aborting the pass.
		e.log.WithError(err).Warn("override source snapshot failed")
		sources = resolve.Sources{}
	}
	if request != nil {
		sources.Request = request
	}

	tabs := cfg.EnabledTabs()
	statuses := make([]PluginStatus, len(tabs))
	entries := make([]*registry.Entry, len(tabs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, tab := range tabs {
		i, tab := i, tab
		g.Go(func() error {
			entries[i], statuses[i] = e.composeTab(gctx, tab, sources)
			return nil
		})
	}
	// Workers never return errors; failures are per-plugin records.
	_ = g.Wait()

	snapshot := make([]*registry.Entry, 0, len(entries))
	for _, entry := range entries {
		if entry != nil {
			snapshot = append(snapshot, entry)
		}
	}

	for _, st := range statuses {
		if st.State == StateRegistered {
			report.Registered++
		} else {
			report.Failed++
			if e.metrics != nil {
				e.metrics.PluginFailuresTotal.WithLabelValues(string(st.Kind)).Inc()
			}
		}
	}
	report.Plugins = statuses
	report.Duration = time.Since(report.StartedAt)

	// Last writer wins at the pass level: a pass that was overtaken by a
	// newer one keeps its report but never publishes its snapshot.
	e.mu.Lock()
	if gen >= e.published {
		e.published = gen
		e.lastConfig = cfg
		e.registry.ReplaceAll(snapshot)
		report.Published = true
		e.lastReport = report
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.CompositionPassDuration.Observe(report.Duration.Seconds())
		e.metrics.RegistryPlugins.Set(float64(e.registry.Count()))
		e.syncLoaderStats()
	}
	e.countPass(trigger, "success")

	e.log.WithFields(logrus.Fields{
		"pass":       report.ID,
		"trigger":    trigger,
		"source":     configSource,
		"registered": report.Registered,
		"failed":     report.Failed,
		"published":  report.Published,
	}).Info("composition pass complete")

	return report, nil
}

// composeTab resolves, loads, merges, and prepares one tab's plugin. Every
// failure is caught here and converted to a failed status record.
func (e *Engine) composeTab(ctx context.Context, tab platform.Tab, sources resolve.Sources) (*registry.Entry, PluginStatus) {
	start := time.Now()
	status := PluginStatus{
		TabID:  tab.ID,
		Remote: tab.Remote.Name,
		State:  StateFailed,
	}
	defer func() {
		status.Duration = time.Since(start)
	}()

	ctx, span := e.tracer.Start(ctx, "composer.tab",
		trace.WithAttributes(attribute.String("tab", tab.ID)))
	defer span.End()

	resolved, err := e.resolver.Resolve(tab.Remote.Name, sources)
	if err != nil {
		status.Kind = FailureLoad
		status.Reason = err.Error()
		e.failTab(tab, status)
		return nil, status
	}
	status.Address = resolved.Address
	status.Tier = resolved.Tier
	if e.metrics != nil {
		e.metrics.OverrideResolutionsTotal.WithLabelValues(string(resolved.Tier)).Inc()
	}

	var handle *remote.Handle
	loadStart := time.Now()
	attempts, err := e.retry.Do(ctx, func(ctx context.Context) error {
		var loadErr error
		handle, loadErr = e.loader.Load(ctx, tab.Remote.Name, resolved.Address)
		return loadErr
	})
	status.Attempts = attempts
	if e.metrics != nil {
		e.metrics.RemoteLoadDuration.WithLabelValues(tab.Remote.Name).Observe(time.Since(loadStart).Seconds())
	}
	if err != nil {
		status.Kind = FailureLoad
		status.Reason = err.Error()
		e.countLoad("failure")
		e.failTab(tab, status)
		return nil, status
	}
	e.countLoad("success")

	data, err := e.loader.Module(ctx, handle, tab.Remote.ModulePath)
	if err != nil {
		status.Kind = FailureLoad
		status.Reason = err.Error()
		e.failTab(tab, status)
		return nil, status
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		status.Kind = FailureValidation
		status.Reason = fmt.Sprintf("module %s did not yield a descriptor document: %v", tab.Remote.ModulePath, err)
		e.failTab(tab, status)
		return nil, status
	}

	d, err := descriptor.FromDocument(doc)
	if err != nil {
		status.Kind = FailureValidation
		status.Reason = err.Error()
		e.failTab(tab, status)
		return nil, status
	}
	// The tab entry's order governs enumeration, not whatever order the
	// remote declares for itself. configOverrides may still refine it.
	d.Order = tab.Order
	mergeOverrides(d, tab.Config)

	vres := descriptor.Validate(d)
	if !vres.Valid {
		status.Kind = FailureValidation
		status.Reason = joinReasons(vres.Errors)
		e.failTab(tab, status)
		return nil, status
	}

	entry, result := e.registry.Prepare(d, resolved.Address)
	if !result.Registered {
		// Validation passed above, so a refusal here is the negotiator's.
		status.Kind = FailureIncompatibility
		status.Reason = joinReasons(result.Errors)
		e.failTab(tab, status)
		return nil, status
	}

	status.State = StateRegistered
	status.PluginID = d.ID
	status.Kind = ""
	status.Warnings = result.Warnings
	return entry, status
}

func (e *Engine) failTab(tab platform.Tab, status PluginStatus) {
	e.log.WithFields(logrus.Fields{
		"tab":    tab.ID,
		"remote": tab.Remote.Name,
		"kind":   string(status.Kind),
		"reason": status.Reason,
	}).Warn("plugin composition failed")
}

// syncLoaderStats mirrors the loader's internal counters into prometheus as
// deltas. Passes are the only load source, so per-pass sync is exact.
func (e *Engine) syncLoaderStats() {
	stats := e.loader.Stats()

	e.mu.Lock()
	prior := e.lastStats
	e.lastStats = stats
	e.mu.Unlock()

	e.metrics.RemoteLoadsDeduplicated.Add(float64(stats.LoadsDeduplicated - prior.LoadsDeduplicated))
	e.metrics.ManifestCacheHitsTotal.Add(float64(stats.ManifestCacheHits - prior.ManifestCacheHits))
}

func (e *Engine) snapshotSources(ctx context.Context) (resolve.Sources, error) {
	if e.sources == nil {
		return resolve.Sources{}, nil
	}
	return e.sources(ctx)
}

func (e *Engine) countPass(trigger, status string) {
	if e.metrics != nil {
		e.metrics.CompositionPassesTotal.WithLabelValues(trigger, status).Inc()
	}
}

func (e *Engine) countLoad(status string) {
	if e.metrics != nil {
		e.metrics.RemoteLoadsTotal.WithLabelValues(status).Inc()
	}
}

// mergeOverrides applies a tab's configOverrides onto the descriptor's
// display fields. Identity and capability fields (id, render, actions,
// dependency requirements) are never overridable.
func mergeOverrides(d *descriptor.Descriptor, overrides map[string]interface{}) {
	if len(overrides) == 0 {
		return
	}

	if v, ok := overrides["displayName"].(string); ok && v != "" {
		d.DisplayName = v
	}
	if v, ok := overrides["order"]; ok {
		switch n := v.(type) {
		case float64:
			d.Order = int(n)
		case int:
			d.Order = n
		}
	}
	if v, ok := overrides["enabled"].(bool); ok {
		enabled := v
		d.Enabled = &enabled
	}
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return "unknown failure"
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}
