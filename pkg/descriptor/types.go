package descriptor

import "context"

// Hook is a lifecycle callback invoked when a plugin is activated or
// deactivated by the rendering layer.
type Hook func(ctx context.Context) error

// Lifecycle holds the optional activation hooks a plugin may declare.
type Lifecycle struct {
	OnActivate   Hook `json:"-"`
	OnDeactivate Hook `json:"-"`
}

// Action describes a user-invocable action contributed by a plugin.
type Action struct {
	ID           string      `json:"id"`
	Label        string      `json:"label"`
	Handler      interface{} `json:"handler,omitempty"`
	DisabledWhen interface{} `json:"disabledWhen,omitempty"`
}

// Descriptor is the contract a plugin must satisfy. ID is the stable,
// immutable identity; registering a second descriptor under the same ID
// replaces the first.
type Descriptor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Version     string `json:"version,omitempty"`

	// Order determines enumeration position in the registry, ascending.
	Order int `json:"order"`

	// Enabled defaults to true when absent; only an explicit false disables.
	Enabled *bool `json:"enabled,omitempty"`

	// Render is the plugin's entry point. It is a capability handle owned by
	// the rendering collaborator and is never inspected here beyond presence.
	Render interface{} `json:"render"`

	Lifecycle *Lifecycle `json:"-"`
	Actions   []Action   `json:"actions,omitempty"`

	// DependencyRequirements maps shared singleton dependency names to the
	// semver range this plugin requires of them.
	DependencyRequirements map[string]string `json:"dependencyRequirements,omitempty"`
}

// IsEnabled reports whether the plugin participates in the active set.
func (d *Descriptor) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Clone returns a shallow copy with its own maps and slices, so override
// merging never mutates the fetched descriptor.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	out := *d
	if d.Enabled != nil {
		v := *d.Enabled
		out.Enabled = &v
	}
	if d.Actions != nil {
		out.Actions = make([]Action, len(d.Actions))
		copy(out.Actions, d.Actions)
	}
	if d.DependencyRequirements != nil {
		out.DependencyRequirements = make(map[string]string, len(d.DependencyRequirements))
		for k, v := range d.DependencyRequirements {
			out.DependencyRequirements[k] = v
		}
	}
	return &out
}
