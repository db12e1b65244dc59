package composer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tessera-io/tessera/pkg/observability"
	"github.com/tessera-io/tessera/pkg/remote"
)

const defaultProbeTimeout = 5 * time.Second

// ProbeResult records one reachability probe of a resolved remote address.
type ProbeResult struct {
	Remote    string        `json:"remote"`
	Address   string        `json:"address"`
	Healthy   bool          `json:"healthy"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// Monitor probes the currently resolved remote addresses on a cron schedule.
// It only observes: an unreachable remote is recorded and reported, never
// auto-reloaded.
type Monitor struct {
	engine  *Engine
	fetcher remote.ResourceFetcher
	cron    *cron.Cron
	metrics *observability.Metrics
	log     *logrus.Logger
	timeout time.Duration

	mu       sync.RWMutex
	statuses map[string]ProbeResult
}

// NewMonitor creates a monitor over the engine's resolved remotes.
func NewMonitor(engine *Engine, fetcher remote.ResourceFetcher, metrics *observability.Metrics, log *logrus.Logger) *Monitor {
	if log == nil {
		log = logrus.New()
	}
	return &Monitor{
		engine:   engine,
		fetcher:  fetcher,
		cron:     cron.New(),
		metrics:  metrics,
		log:      log,
		timeout:  defaultProbeTimeout,
		statuses: make(map[string]ProbeResult),
	}
}

// Start schedules probes on the given cron expression (e.g. "@every 1m").
func (m *Monitor) Start(schedule string) error {
	if _, err := m.cron.AddFunc(schedule, m.ProbeAll); err != nil {
		return err
	}
	m.cron.Start()
	m.log.WithField("schedule", schedule).Info("remote health monitor started")
	return nil
}

// Stop halts the schedule and waits for any running probe to finish.
func (m *Monitor) Stop(ctx context.Context) error {
	stopped := m.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProbeAll probes every currently resolved remote once. It is also invoked
// by the cron schedule.
func (m *Monitor) ProbeAll() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	remotes, err := m.engine.Remotes(ctx)
	if err != nil {
		m.log.WithError(err).Warn("remote probe skipped: resolution failed")
		return
	}

	for _, r := range remotes {
		result := m.probe(ctx, r.Name, r.Address)

		m.mu.Lock()
		m.statuses[r.Name] = result
		m.mu.Unlock()

		status := "healthy"
		if !result.Healthy {
			status = "unreachable"
			m.log.WithFields(logrus.Fields{
				"remote":  r.Name,
				"address": r.Address,
				"error":   result.Error,
			}).Warn("remote is unreachable")
		}
		if m.metrics != nil {
			m.metrics.RemoteProbesTotal.WithLabelValues(r.Name, status).Inc()
		}
	}
}

func (m *Monitor) probe(ctx context.Context, name, address string) ProbeResult {
	start := time.Now()
	result := ProbeResult{
		Remote:    name,
		Address:   address,
		CheckedAt: start.UTC(),
	}

	_, err := m.fetcher.Fetch(ctx, address)
	result.Latency = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Healthy = true
	return result
}

// Statuses returns the latest probe results sorted by remote name.
func (m *Monitor) Statuses() []ProbeResult {
	m.mu.RLock()
	results := make([]ProbeResult, 0, len(m.statuses))
	for _, r := range m.statuses {
		results = append(results, r)
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Remote < results[j].Remote
	})
	return results
}
