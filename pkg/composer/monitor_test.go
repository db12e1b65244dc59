package composer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_ProbeAll(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.engine.Initialize(context.Background())
	require.NoError(t, err)

	monitor := NewMonitor(f.engine, f.fetcher, nil, quietLog())
	monitor.ProbeAll()

	statuses := monitor.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "files_tab", statuses[0].Remote)
	assert.True(t, statuses[0].Healthy)
	assert.Equal(t, "reports_tab", statuses[1].Remote)
	assert.True(t, statuses[1].Healthy)
}

func TestMonitor_RecordsUnreachableRemote(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.engine.Initialize(context.Background())
	require.NoError(t, err)

	f.fetcher.mu.Lock()
	f.fetcher.errs[reportsAddr] = errors.New("connection refused")
	f.fetcher.mu.Unlock()

	monitor := NewMonitor(f.engine, f.fetcher, nil, quietLog())
	monitor.ProbeAll()

	statuses := monitor.Statuses()
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Healthy)
	assert.False(t, statuses[1].Healthy)
	assert.Contains(t, statuses[1].Error, "connection refused")

	// The monitor observes only; the registry is untouched.
	assert.Equal(t, 2, f.engine.registry.Count())
}

func TestMonitor_NoPassYet(t *testing.T) {
	f := newFixture(t, Options{})

	monitor := NewMonitor(f.engine, f.fetcher, nil, quietLog())
	monitor.ProbeAll()

	assert.Empty(t, monitor.Statuses())
}

func TestMonitor_StartAndStop(t *testing.T) {
	f := newFixture(t, Options{})

	monitor := NewMonitor(f.engine, f.fetcher, nil, quietLog())
	require.NoError(t, monitor.Start("@every 1h"))
	require.Error(t, monitor.Start("not a schedule"))

	require.NoError(t, monitor.Stop(context.Background()))
}
