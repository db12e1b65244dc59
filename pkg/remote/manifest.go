package remote

import (
	"encoding/json"
	"fmt"
)

// ModuleSpec describes one loadable unit exposed by a remote.
type ModuleSpec struct {
	URL       string `json:"url"`
	Integrity string `json:"integrity,omitempty"`
}

// Manifest is the metadata document describing a remote: its logical name,
// version, and the modules it exposes by logical path.
type Manifest struct {
	Name           string                `json:"name"`
	Version        string                `json:"version"`
	ExposedModules map[string]ModuleSpec `json:"exposedModules"`
}

// ParseManifest decodes and validates a fetched manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse remote manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest's required shape.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("remote manifest: name is required")
	}
	if len(m.ExposedModules) == 0 {
		return fmt.Errorf("remote manifest %s: exposedModules must not be empty", m.Name)
	}
	for path, spec := range m.ExposedModules {
		if spec.URL == "" {
			return fmt.Errorf("remote manifest %s: module %q has no url", m.Name, path)
		}
	}
	return nil
}
