package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// MapSource is a KeyValueSource over a plain map. It is the snapshot form
// every other source reduces to before resolution.
type MapSource struct {
	values map[string]string
}

// NewMapSource copies the given map into a source.
func NewMapSource(values map[string]string) *MapSource {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &MapSource{values: copied}
}

// Get implements KeyValueSource.
func (s *MapSource) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Len returns the number of entries.
func (s *MapSource) Len() int {
	return len(s.values)
}

// FileSource serves overrides from a JSON or YAML document on disk. The
// document is a flat map of remote name to address. Lookups read an
// in-memory snapshot; the snapshot refreshes when the file changes on disk,
// so resolution stays pure while edits still take effect.
type FileSource struct {
	path    string
	log     *logrus.Logger
	watcher *fsnotify.Watcher

	mu       sync.RWMutex
	snapshot map[string]string
}

// NewFileSource reads the document at path and starts watching it for
// changes. A missing file is not an error: the source simply has no opinion
// until the file appears.
func NewFileSource(path string, log *logrus.Logger) (*FileSource, error) {
	if log == nil {
		log = logrus.New()
	}

	s := &FileSource{
		path:     path,
		log:      log,
		snapshot: make(map[string]string),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("override file watcher unavailable, snapshot will not auto-refresh")
		return s, nil
	}
	// Watch the directory: editors replace files rather than writing in place.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		log.WithError(err).Warn("override file watcher unavailable, snapshot will not auto-refresh")
		return s, nil
	}

	s.watcher = watcher
	go s.watch()

	return s, nil
}

// Get implements KeyValueSource.
func (s *FileSource) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.snapshot[key]
	return v, ok
}

// Reload re-reads the file into the snapshot.
func (s *FileSource) Reload() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.mu.Lock()
		s.snapshot = make(map[string]string)
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read override file: %w", err)
	}

	values, err := decodeAddressMap(data)
	if err != nil {
		return fmt.Errorf("failed to parse override file %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.snapshot = values
	s.mu.Unlock()
	return nil
}

// Close stops the file watcher.
func (s *FileSource) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *FileSource) watch() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.log.WithError(err).Warn("failed to refresh override snapshot")
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.WithError(err).Warn("override file watcher error")
		}
	}
}

// RedisSource produces session-scoped override snapshots from a redis hash.
// It is not itself a KeyValueSource: callers snapshot it once per
// resolution pass so the chain stays free of live lookups.
type RedisSource struct {
	client *redis.Client
	key    string
}

// NewRedisSource creates a source over the given hash key.
func NewRedisSource(client *redis.Client, key string) *RedisSource {
	return &RedisSource{client: client, key: key}
}

// Snapshot fetches the full hash into a MapSource.
func (s *RedisSource) Snapshot(ctx context.Context) (*MapSource, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot session overrides: %w", err)
	}
	return NewMapSource(values), nil
}

// Set writes a session override.
func (s *RedisSource) Set(ctx context.Context, name, address string) error {
	if err := s.client.HSet(ctx, s.key, name, address).Err(); err != nil {
		return fmt.Errorf("failed to set session override: %w", err)
	}
	return nil
}

// Delete removes a session override.
func (s *RedisSource) Delete(ctx context.Context, name string) error {
	if err := s.client.HDel(ctx, s.key, name).Err(); err != nil {
		return fmt.Errorf("failed to delete session override: %w", err)
	}
	return nil
}

// FirstOf layers sources: the first one with an opinion for a key wins.
// Used when the persisted tier has both a durable store and a watched file.
func FirstOf(sources ...KeyValueSource) KeyValueSource {
	return layeredSource(sources)
}

type layeredSource []KeyValueSource

func (l layeredSource) Get(key string) (string, bool) {
	for _, s := range l {
		if s == nil {
			continue
		}
		if v, ok := s.Get(key); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// LoadAddressFile reads a flat name->address document (JSON or YAML) into a
// MapSource. A missing file yields an empty source.
func LoadAddressFile(path string) (*MapSource, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewMapSource(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read address file: %w", err)
	}

	values, err := decodeAddressMap(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse address file %s: %w", path, err)
	}
	return NewMapSource(values), nil
}

// decodeAddressMap parses a flat name->address document, accepting JSON and
// falling back to YAML.
func decodeAddressMap(data []byte) (map[string]string, error) {
	var values map[string]string
	if err := json.Unmarshal(data, &values); err == nil {
		return values, nil
	}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	return values, nil
}
