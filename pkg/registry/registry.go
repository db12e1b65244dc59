package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tessera-io/tessera/pkg/compat"
	"github.com/tessera-io/tessera/pkg/descriptor"
)

// EventType classifies a registry change notification.
type EventType string

const (
	EventRegistered   EventType = "registered"
	EventUnregistered EventType = "unregistered"
)

// Event is delivered to subscribers on every successful mutation.
type Event struct {
	Type  EventType `json:"type"`
	ID    string    `json:"id"`
	Entry *Entry    `json:"entry,omitempty"`
}

// Listener receives registry change events.
type Listener func(Event)

// Entry wraps a validated descriptor with its load provenance. Entries are
// owned by the registry and never mutated after insertion; replacement is
// the only update path.
type Entry struct {
	Descriptor *descriptor.Descriptor `json:"descriptor"`
	LoadedAt   time.Time              `json:"loadedAt"`
	Source     string                 `json:"source"`
	Warnings   []string               `json:"warnings,omitempty"`

	// seq is the insertion tie-break for enumeration ordering.
	seq uint64
}

// Result reports the outcome of a registration attempt.
type Result struct {
	Registered bool     `json:"registered"`
	Errors     []string `json:"errors,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

type subscription struct {
	id       int
	listener Listener
}

// Registry is an owned, constructible plugin registry. It is safe for
// concurrent use; mutations never suspend mid-update.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	seq        uint64
	subs       []subscription
	nextSubID  int
	negotiator *compat.Negotiator
	log        *logrus.Logger
}

// New creates an empty registry. The negotiator may be nil, in which case
// dependency requirements are not checked. A nil logger defaults to the
// standard one.
func New(negotiator *compat.Negotiator, log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.New()
	}
	return &Registry{
		entries:    make(map[string]*Entry),
		negotiator: negotiator,
		log:        log,
	}
}

// Prepare validates and negotiates a candidate without mutating the
// registry, returning the entry that Register or ReplaceAll would store.
func (r *Registry) Prepare(d *descriptor.Descriptor, source string) (*Entry, Result) {
	vres := descriptor.Validate(d)
	result := Result{Errors: vres.Errors, Warnings: vres.Warnings}
	if !vres.Valid {
		return nil, result
	}

	if r.negotiator != nil && len(d.DependencyRequirements) > 0 {
		check := r.negotiator.Check(d.DependencyRequirements)
		if !check.Compatible {
			if r.negotiator.Strict() {
				for _, v := range check.Violations {
					result.Errors = append(result.Errors, v.Message)
				}
				return nil, result
			}
			for _, v := range check.Violations {
				result.Warnings = append(result.Warnings, v.Message)
				r.log.WithFields(logrus.Fields{
					"plugin":     d.ID,
					"dependency": v.Dependency,
				}).Warn(v.Message)
			}
		}
	}

	result.Registered = true
	return &Entry{
		Descriptor: d,
		LoadedAt:   time.Now().UTC(),
		Source:     source,
		Warnings:   result.Warnings,
	}, result
}

// Register validates, negotiates, and stores a plugin. On any error the
// registry is left unchanged. Subscribers are notified after the mutation
// completes.
func (r *Registry) Register(d *descriptor.Descriptor, source string) Result {
	entry, result := r.Prepare(d, source)
	if !result.Registered {
		return result
	}

	r.mu.Lock()
	if prior, exists := r.entries[entry.Descriptor.ID]; exists {
		// Replacement keeps its original tie-break position.
		entry.seq = prior.seq
	} else {
		r.seq++
		entry.seq = r.seq
	}
	r.entries[entry.Descriptor.ID] = entry
	listeners := r.snapshotListeners()
	r.mu.Unlock()

	r.notify(listeners, Event{Type: EventRegistered, ID: entry.Descriptor.ID, Entry: entry})
	return result
}

// Unregister removes a plugin by ID, reporting whether it was present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	_, exists := r.entries[id]
	if !exists {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, id)
	listeners := r.snapshotListeners()
	r.mu.Unlock()

	r.notify(listeners, Event{Type: EventUnregistered, ID: id})
	return true
}

// ReplaceAll atomically swaps the full entry set with a new snapshot.
// Entries keep the order of the given slice as their insertion tie-break.
// Diff events (unregistered for dropped IDs, registered for kept/new ones)
// are emitted after the swap, so subscribers only ever observe one complete
// snapshot.
func (r *Registry) ReplaceAll(entries []*Entry) {
	next := make(map[string]*Entry, len(entries))

	r.mu.Lock()
	for _, entry := range entries {
		r.seq++
		entry.seq = r.seq
		next[entry.Descriptor.ID] = entry
	}

	var removed []string
	for id := range r.entries {
		if _, kept := next[id]; !kept {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)

	r.entries = next
	listeners := r.snapshotListeners()
	r.mu.Unlock()

	for _, id := range removed {
		r.notify(listeners, Event{Type: EventUnregistered, ID: id})
	}
	for _, entry := range entries {
		r.notify(listeners, Event{Type: EventRegistered, ID: entry.Descriptor.ID, Entry: entry})
	}
}

// Get returns the entry for a plugin ID.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	return entry, ok
}

// GetAll returns all entries sorted by declared order ascending, ties broken
// by insertion order.
func (r *Registry) GetAll() []*Entry {
	r.mu.RLock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Descriptor.Order != entries[j].Descriptor.Order {
			return entries[i].Descriptor.Order < entries[j].Descriptor.Order
		}
		return entries[i].seq < entries[j].seq
	})
	return entries
}

// GetEnabled returns the ordered entries whose plugins are not explicitly
// disabled.
func (r *Registry) GetEnabled() []*Entry {
	all := r.GetAll()
	enabled := make([]*Entry, 0, len(all))
	for _, entry := range all {
		if entry.Descriptor.IsEnabled() {
			enabled = append(enabled, entry)
		}
	}
	return enabled
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear removes every entry without emitting events. Intended for tests and
// disposal.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*Entry)
}

// Subscribe adds a change listener and returns its unsubscribe function.
// Listeners are invoked in subscription order.
func (r *Registry) Subscribe(listener Listener) func() {
	r.mu.Lock()
	r.nextSubID++
	id := r.nextSubID
	r.subs = append(r.subs, subscription{id: id, listener: listener})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, sub := range r.subs {
			if sub.id == id {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

// DebugInfo returns an introspection snapshot for the diagnostics surface.
func (r *Registry) DebugInfo() map[string]interface{} {
	all := r.GetAll()

	ids := make([]string, 0, len(all))
	for _, entry := range all {
		ids = append(ids, entry.Descriptor.ID)
	}

	r.mu.RLock()
	subscribers := len(r.subs)
	r.mu.RUnlock()

	return map[string]interface{}{
		"count":       len(all),
		"ids":         ids,
		"subscribers": subscribers,
	}
}

func (r *Registry) snapshotListeners() []Listener {
	listeners := make([]Listener, 0, len(r.subs))
	for _, sub := range r.subs {
		listeners = append(listeners, sub.listener)
	}
	return listeners
}

func (r *Registry) notify(listeners []Listener, event Event) {
	for _, listener := range listeners {
		listener(event)
	}
}
