package platform

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Metadata names the composed platform.
type Metadata struct {
	Name  string `json:"name" yaml:"name"`
	Theme string `json:"theme,omitempty" yaml:"theme,omitempty"`
}

// RemoteRef points a tab at one exposed module of a logical remote.
type RemoteRef struct {
	Name       string `json:"name" yaml:"name"`
	ModulePath string `json:"modulePath" yaml:"modulePath"`
}

// Tab is one entry of the composition manifest.
type Tab struct {
	ID      string    `json:"id" yaml:"id"`
	Enabled *bool     `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Order   int       `json:"order" yaml:"order"`
	Remote  RemoteRef `json:"remote" yaml:"remote"`

	// Config holds per-tab overrides merged onto the fetched descriptor's
	// display fields.
	Config map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
}

// IsEnabled reports whether the tab participates in composition. Only an
// explicit false disables.
func (t *Tab) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// Config is the platform composition document.
type Config struct {
	Version  string                 `json:"version" yaml:"version"`
	Platform Metadata               `json:"platform" yaml:"platform"`
	Tabs     []Tab                  `json:"tabs" yaml:"tabs"`
	Layout   map[string]interface{} `json:"layout,omitempty" yaml:"layout,omitempty"`
}

// ValidationError is one schema violation in a composition document.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Decode parses a composition document, accepting JSON and falling back to
// YAML.
func Decode(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err == nil {
		return &cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse platform config: %w", err)
	}
	return &cfg, nil
}

// Validate performs schema validation on the document.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.Version == "" {
		errors = append(errors, ValidationError{
			Field:   "version",
			Message: "version is required",
		})
	}

	seen := make(map[string]bool, len(c.Tabs))
	for i, tab := range c.Tabs {
		field := fmt.Sprintf("tabs[%d]", i)

		if tab.ID == "" {
			errors = append(errors, ValidationError{
				Field:   field + ".id",
				Message: "tab id is required",
			})
		} else if seen[tab.ID] {
			errors = append(errors, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate tab id %q", tab.ID),
			})
		}
		seen[tab.ID] = true

		if tab.Remote.Name == "" {
			errors = append(errors, ValidationError{
				Field:   field + ".remote.name",
				Message: "remote name is required",
			})
		}
		if tab.Remote.ModulePath == "" {
			errors = append(errors, ValidationError{
				Field:   field + ".remote.modulePath",
				Message: "remote module path is required",
			})
		}
	}

	return errors
}

// EnabledTabs returns the tabs participating in composition.
func (c *Config) EnabledTabs() []Tab {
	enabled := make([]Tab, 0, len(c.Tabs))
	for _, tab := range c.Tabs {
		if tab.IsEnabled() {
			enabled = append(enabled, tab)
		}
	}
	return enabled
}
