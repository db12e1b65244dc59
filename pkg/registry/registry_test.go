package registry

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-io/tessera/pkg/compat"
	"github.com/tessera-io/tessera/pkg/descriptor"
)

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func desc(id string, order int) *descriptor.Descriptor {
	return &descriptor.Descriptor{
		ID:          id,
		DisplayName: id,
		Version:     "1.0.0",
		Order:       order,
		Render:      id + "/render",
		Lifecycle:   &descriptor.Lifecycle{},
	}
}

func TestRegistry_Register(t *testing.T) {
	r := New(nil, quietLog())

	result := r.Register(desc("files", 1), "https://cdn.example.com/files")
	assert.True(t, result.Registered)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, r.Count())

	entry, ok := r.Get("files")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/files", entry.Source)
	assert.False(t, entry.LoadedAt.IsZero())
}

func TestRegistry_Register_InvalidLeavesRegistryUnchanged(t *testing.T) {
	r := New(nil, quietLog())

	candidates := []*descriptor.Descriptor{
		nil,
		{},
		{ID: "x"},
		{ID: "x", DisplayName: "X"},
		{DisplayName: "X", Render: "r"},
	}

	for _, candidate := range candidates {
		result := r.Register(candidate, "src")
		assert.False(t, result.Registered)
		assert.NotEmpty(t, result.Errors)
	}
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_Register_ReplacesUnderSameID(t *testing.T) {
	r := New(nil, quietLog())

	var events []Event
	r.Subscribe(func(e Event) { events = append(events, e) })

	first := desc("files", 1)
	second := desc("files", 1)
	second.DisplayName = "Files v2"

	r.Register(first, "src-a")
	r.Register(second, "src-b")

	assert.Equal(t, 1, r.Count())
	entry, _ := r.Get("files")
	assert.Equal(t, "Files v2", entry.Descriptor.DisplayName)
	assert.Equal(t, "src-b", entry.Source)

	// Replacement emits a change notification too.
	require.Len(t, events, 2)
	assert.Equal(t, EventRegistered, events[1].Type)
}

func TestRegistry_GetAll_SortedByOrder(t *testing.T) {
	r := New(nil, quietLog())

	// Register out of declared order.
	r.Register(desc("b", 2), "src")
	r.Register(desc("a", 1), "src")
	r.Register(desc("c", 3), "src")

	all := r.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Descriptor.ID)
	assert.Equal(t, "b", all[1].Descriptor.ID)
	assert.Equal(t, "c", all[2].Descriptor.ID)
}

func TestRegistry_GetAll_TiesBrokenByInsertionOrder(t *testing.T) {
	r := New(nil, quietLog())

	r.Register(desc("first", 5), "src")
	r.Register(desc("second", 5), "src")
	r.Register(desc("third", 5), "src")

	all := r.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, "first", all[0].Descriptor.ID)
	assert.Equal(t, "second", all[1].Descriptor.ID)
	assert.Equal(t, "third", all[2].Descriptor.ID)

	// A replacement keeps its tie-break position.
	r.Register(desc("first", 5), "src-2")
	all = r.GetAll()
	assert.Equal(t, "first", all[0].Descriptor.ID)
}

func TestRegistry_GetEnabled(t *testing.T) {
	r := New(nil, quietLog())

	off := false
	disabled := desc("hidden", 1)
	disabled.Enabled = &off

	r.Register(disabled, "src")
	r.Register(desc("visible", 2), "src")

	enabled := r.GetEnabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "visible", enabled[0].Descriptor.ID)
	assert.Equal(t, 2, r.Count())
}

func TestRegistry_Unregister(t *testing.T) {
	r := New(nil, quietLog())
	r.Register(desc("files", 1), "src")

	assert.True(t, r.Unregister("files"))
	assert.False(t, r.Unregister("files"))
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_Notifications(t *testing.T) {
	r := New(nil, quietLog())

	var order []string
	r.Subscribe(func(e Event) { order = append(order, "first:"+string(e.Type)+":"+e.ID) })
	r.Subscribe(func(e Event) { order = append(order, "second:"+string(e.Type)+":"+e.ID) })

	r.Register(desc("files", 1), "src")
	r.Unregister("files")

	// Exactly once per successful mutation, in subscription order.
	assert.Equal(t, []string{
		"first:registered:files",
		"second:registered:files",
		"first:unregistered:files",
		"second:unregistered:files",
	}, order)
}

func TestRegistry_NoNotificationOnFailedRegister(t *testing.T) {
	r := New(nil, quietLog())

	var events []Event
	r.Subscribe(func(e Event) { events = append(events, e) })

	r.Register(&descriptor.Descriptor{}, "src")
	r.Unregister("absent")

	assert.Empty(t, events)
}

func TestRegistry_ListenerObservesCompletedMutation(t *testing.T) {
	r := New(nil, quietLog())

	r.Subscribe(func(e Event) {
		// The mutation is complete by the time listeners run.
		entry, ok := r.Get(e.ID)
		if e.Type == EventRegistered {
			assert.True(t, ok)
			assert.NotNil(t, entry)
		} else {
			assert.False(t, ok)
		}
	})

	r.Register(desc("files", 1), "src")
	r.Unregister("files")
}

func TestRegistry_Unsubscribe(t *testing.T) {
	r := New(nil, quietLog())

	var count int
	unsubscribe := r.Subscribe(func(Event) { count++ })

	r.Register(desc("a", 1), "src")
	unsubscribe()
	r.Register(desc("b", 2), "src")

	assert.Equal(t, 1, count)
}

func TestRegistry_ReplaceAll(t *testing.T) {
	r := New(nil, quietLog())
	r.Register(desc("old", 1), "src")
	r.Register(desc("kept", 2), "src")

	var events []Event
	r.Subscribe(func(e Event) { events = append(events, e) })

	keptEntry, _ := r.Prepare(desc("kept", 2), "src-2")
	newEntry, _ := r.Prepare(desc("new", 3), "src-2")
	r.ReplaceAll([]*Entry{keptEntry, newEntry})

	assert.Equal(t, 2, r.Count())
	_, ok := r.Get("old")
	assert.False(t, ok)
	_, ok = r.Get("new")
	assert.True(t, ok)

	// Dropped IDs first, then the new snapshot's entries.
	require.Len(t, events, 3)
	assert.Equal(t, EventUnregistered, events[0].Type)
	assert.Equal(t, "old", events[0].ID)
	assert.Equal(t, EventRegistered, events[1].Type)
	assert.Equal(t, "kept", events[1].ID)
	assert.Equal(t, EventRegistered, events[2].Type)
	assert.Equal(t, "new", events[2].ID)
}

func TestRegistry_StrictNegotiationRefusesRegistration(t *testing.T) {
	negotiator, err := compat.NewNegotiator(map[string]string{"ui-kit": "4.2.1"}, true)
	require.NoError(t, err)

	r := New(negotiator, quietLog())

	incompatible := desc("files", 1)
	incompatible.DependencyRequirements = map[string]string{"ui-kit": "^5.0.0"}

	result := r.Register(incompatible, "src")
	assert.False(t, result.Registered)
	assert.NotEmpty(t, result.Errors)
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_LenientNegotiationWarnsAndRegisters(t *testing.T) {
	negotiator, err := compat.NewNegotiator(map[string]string{"ui-kit": "4.2.1"}, false)
	require.NoError(t, err)

	r := New(negotiator, quietLog())

	incompatible := desc("files", 1)
	incompatible.DependencyRequirements = map[string]string{"ui-kit": "^5.0.0"}

	result := r.Register(incompatible, "src")
	assert.True(t, result.Registered)
	assert.NotEmpty(t, result.Warnings)
	assert.Equal(t, 1, r.Count())

	entry, _ := r.Get("files")
	assert.NotEmpty(t, entry.Warnings)
}

func TestRegistry_NoRequirementsAlwaysCompatible(t *testing.T) {
	negotiator, err := compat.NewNegotiator(map[string]string{}, true)
	require.NoError(t, err)

	r := New(negotiator, quietLog())

	result := r.Register(desc("files", 1), "src")
	assert.True(t, result.Registered)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New(nil, quietLog())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%10))
			r.Register(desc(id, i%10), "src")
			r.GetAll()
			r.GetEnabled()
			r.Get(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, r.Count())
}

func TestRegistry_DebugInfo(t *testing.T) {
	r := New(nil, quietLog())
	r.Register(desc("b", 2), "src")
	r.Register(desc("a", 1), "src")
	r.Subscribe(func(Event) {})

	info := r.DebugInfo()
	assert.Equal(t, 2, info["count"])
	assert.Equal(t, []string{"a", "b"}, info["ids"])
	assert.Equal(t, 1, info["subscribers"])
}
