package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/tessera-io/tessera/pkg/remote"
)

// embeddedFallback is the compiled-in last tier of the document chain: a
// valid empty composition, so Load always has something to return.
const embeddedFallback = `{
  "version": "1.0.0",
  "platform": {"name": "tessera"},
  "tabs": []
}`

// SourceEmbedded is the tier name of the embedded fallback document.
const SourceEmbedded = "embedded"

// ErrNoConfig is returned when every source tier is exhausted without
// producing a valid document.
var ErrNoConfig = errors.New("no configuration source produced a valid document")

// errSourceAbsent marks a tier that has no opinion (missing file, no address
// configured).
var errSourceAbsent = errors.New("config source absent")

// Source is one tier of the document chain.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]byte, error)
}

// addressSource fetches the document from a fixed address.
type addressSource struct {
	name    string
	fetcher remote.ResourceFetcher
	address string
}

func (s *addressSource) Name() string { return s.name }

func (s *addressSource) Load(ctx context.Context) ([]byte, error) {
	if s.address == "" {
		return nil, errSourceAbsent
	}
	return s.fetcher.Fetch(ctx, s.address)
}

// fileSource reads the persisted developer document.
type fileSource struct {
	path string
}

func (s *fileSource) Name() string { return "persisted" }

func (s *fileSource) Load(ctx context.Context) ([]byte, error) {
	if s.path == "" {
		return nil, errSourceAbsent
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, errSourceAbsent
	}
	return data, err
}

// embeddedSource serves the compiled-in fallback.
type embeddedSource struct{}

func (s *embeddedSource) Name() string { return SourceEmbedded }

func (s *embeddedSource) Load(ctx context.Context) ([]byte, error) {
	return []byte(embeddedFallback), nil
}

// Chain configures the document source tiers in priority order. Empty
// fields disable their tier; the embedded fallback is always last.
type Chain struct {
	// ExplicitAddress is an externally supplied document address, the
	// highest-priority tier.
	ExplicitAddress string
	// PersistedPath is the developer-persisted document on disk.
	PersistedPath string
	// DefaultAddress is the well-known default document address.
	DefaultAddress string
	// Fetcher resolves the address-backed tiers.
	Fetcher remote.ResourceFetcher
}

// Loader loads the composition document from the chain.
type Loader struct {
	chain   Chain
	sources []Source
	log     *logrus.Logger
}

// NewLoader builds a loader over the chain. A nil logger defaults to the
// standard one.
func NewLoader(chain Chain, log *logrus.Logger) *Loader {
	if log == nil {
		log = logrus.New()
	}

	sources := []Source{
		&addressSource{name: "explicit", fetcher: chain.Fetcher, address: chain.ExplicitAddress},
		&fileSource{path: chain.PersistedPath},
		&addressSource{name: "default", fetcher: chain.Fetcher, address: chain.DefaultAddress},
		&embeddedSource{},
	}

	return &Loader{
		chain:   chain,
		sources: sources,
		log:     log,
	}
}

// Load walks the tiers high-to-low and returns the first document that both
// resolves and passes schema validation, along with the winning tier's name.
// A tier that resolves but fails validation is logged and skipped, never
// surfaced as an error.
func (l *Loader) Load(ctx context.Context) (*Config, string, error) {
	for _, source := range l.sources {
		data, err := source.Load(ctx)
		if err != nil {
			if !errors.Is(err, errSourceAbsent) {
				l.log.WithError(err).WithField("source", source.Name()).
					Debug("config source unavailable")
			}
			continue
		}

		cfg, err := Decode(data)
		if err != nil {
			l.log.WithError(err).WithField("source", source.Name()).
				Warn("config source failed to parse, falling through")
			continue
		}

		if verrs := cfg.Validate(); len(verrs) > 0 {
			l.log.WithFields(logrus.Fields{
				"source": source.Name(),
				"errors": verrs,
			}).Warn("config source failed schema validation, falling through")
			continue
		}

		l.log.WithField("source", source.Name()).Info("platform config loaded")
		return cfg, source.Name(), nil
	}

	return nil, "", ErrNoConfig
}

// Save writes a document to the persisted tier so later loads prefer it over
// the default document.
func (l *Loader) Save(cfg *Config) error {
	if l.chain.PersistedPath == "" {
		return fmt.Errorf("no persisted config path configured")
	}
	if verrs := cfg.Validate(); len(verrs) > 0 {
		return fmt.Errorf("refusing to persist invalid config: %v", verrs)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode platform config: %w", err)
	}
	if err := os.WriteFile(l.chain.PersistedPath, data, 0644); err != nil {
		return fmt.Errorf("failed to persist platform config: %w", err)
	}
	return nil
}

// Clear removes the persisted tier document.
func (l *Loader) Clear() error {
	if l.chain.PersistedPath == "" {
		return nil
	}
	err := os.Remove(l.chain.PersistedPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear persisted platform config: %w", err)
	}
	return nil
}
