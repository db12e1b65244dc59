package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// OverrideStore is the durable backing for the persisted override tier.
// Developer tooling round-trips overrides through it without touching the
// default address map.
type OverrideStore interface {
	// All returns every persisted override.
	All(ctx context.Context) (map[string]string, error)
	// Set persists an override for a remote name.
	Set(ctx context.Context, name, address string) error
	// Delete removes a persisted override.
	Delete(ctx context.Context, name string) error
	// Clear removes all persisted overrides.
	Clear(ctx context.Context) error
	// Close releases any underlying resources.
	Close() error
}

// StoreConfig selects and configures an override store backend.
type StoreConfig struct {
	Type string // "file" or "sqlite"
	Path string
}

// NewOverrideStore builds a store from config.
func NewOverrideStore(cfg StoreConfig) (OverrideStore, error) {
	switch cfg.Type {
	case "", "file":
		return NewFileOverrideStore(cfg.Path), nil
	case "sqlite":
		return NewSQLiteOverrideStore(cfg.Path)
	default:
		return nil, fmt.Errorf("invalid override store type: %s (must be file or sqlite)", cfg.Type)
	}
}

// SnapshotStore reduces a store to a pure KeyValueSource for one resolution
// pass.
func SnapshotStore(ctx context.Context, store OverrideStore) (*MapSource, error) {
	if store == nil {
		return NewMapSource(nil), nil
	}
	values, err := store.All(ctx)
	if err != nil {
		return nil, err
	}
	return NewMapSource(values), nil
}

// InstrumentedStore decorates a store with per-operation counters labeled
// by backend, operation, and outcome.
type InstrumentedStore struct {
	store   OverrideStore
	backend string
	ops     *prometheus.CounterVec
}

// NewInstrumentedStore wraps store; ops must carry the labels
// (backend, operation, status).
func NewInstrumentedStore(store OverrideStore, backend string, ops *prometheus.CounterVec) *InstrumentedStore {
	return &InstrumentedStore{store: store, backend: backend, ops: ops}
}

func (s *InstrumentedStore) count(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	s.ops.WithLabelValues(s.backend, operation, status).Inc()
}

// All implements OverrideStore.
func (s *InstrumentedStore) All(ctx context.Context) (map[string]string, error) {
	values, err := s.store.All(ctx)
	s.count("all", err)
	return values, err
}

// Set implements OverrideStore.
func (s *InstrumentedStore) Set(ctx context.Context, name, address string) error {
	err := s.store.Set(ctx, name, address)
	s.count("set", err)
	return err
}

// Delete implements OverrideStore.
func (s *InstrumentedStore) Delete(ctx context.Context, name string) error {
	err := s.store.Delete(ctx, name)
	s.count("delete", err)
	return err
}

// Clear implements OverrideStore.
func (s *InstrumentedStore) Clear(ctx context.Context) error {
	err := s.store.Clear(ctx)
	s.count("clear", err)
	return err
}

// Close implements OverrideStore.
func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

// FileOverrideStore persists overrides as a JSON document, the closest
// server-side analog of a browser's local storage.
type FileOverrideStore struct {
	path string
	mu   sync.Mutex
}

// NewFileOverrideStore creates a file-backed store at path. The file is
// created lazily on first write.
func NewFileOverrideStore(path string) *FileOverrideStore {
	return &FileOverrideStore{path: path}
}

// All implements OverrideStore.
func (s *FileOverrideStore) All(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Set implements OverrideStore.
func (s *FileOverrideStore) Set(ctx context.Context, name, address string) error {
	if name == "" || address == "" {
		return fmt.Errorf("override name and address are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}
	values[name] = address
	return s.write(values)
}

// Delete implements OverrideStore.
func (s *FileOverrideStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := values[name]; !ok {
		return nil
	}
	delete(values, name)
	return s.write(values)
}

// Clear implements OverrideStore.
func (s *FileOverrideStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear override store: %w", err)
	}
	return nil
}

// Close implements OverrideStore.
func (s *FileOverrideStore) Close() error {
	return nil
}

func (s *FileOverrideStore) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read override store: %w", err)
	}

	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse override store: %w", err)
	}
	if values == nil {
		values = make(map[string]string)
	}
	return values, nil
}

func (s *FileOverrideStore) write(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode override store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write override store: %w", err)
	}
	return nil
}
