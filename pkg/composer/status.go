package composer

import (
	"time"

	"github.com/tessera-io/tessera/pkg/resolve"
)

// FailureKind classifies why a plugin failed to compose.
type FailureKind string

const (
	// FailureValidation marks a malformed descriptor. Never retried.
	FailureValidation FailureKind = "validation_error"
	// FailureIncompatibility marks a dependency requirement violation under
	// strict negotiation.
	FailureIncompatibility FailureKind = "incompatibility"
	// FailureLoad marks a transient resolve/fetch/timeout failure, eligible
	// for retry.
	FailureLoad FailureKind = "load_failure"
)

// Plugin composition states.
const (
	StateRegistered = "registered"
	StateFailed     = "failed"
)

// PluginStatus is the per-plugin record of one composition pass.
type PluginStatus struct {
	TabID    string       `json:"tabId"`
	PluginID string       `json:"pluginId,omitempty"`
	Remote   string       `json:"remote"`
	Address  string       `json:"address,omitempty"`
	Tier     resolve.Tier `json:"tier,omitempty"`

	State    string      `json:"state"`
	Kind     FailureKind `json:"kind,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`

	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration_ms"`
}

// PassReport summarizes one composition pass for the diagnostics surface.
type PassReport struct {
	ID           string         `json:"id"`
	Trigger      string         `json:"trigger"`
	ConfigSource string         `json:"configSource"`
	StartedAt    time.Time      `json:"startedAt"`
	Duration     time.Duration  `json:"duration_ms"`
	Registered   int            `json:"registered"`
	Failed       int            `json:"failed"`
	Published    bool           `json:"published"`
	Plugins      []PluginStatus `json:"plugins"`
}

// FailedPlugins returns the failed records, preserving tab order.
func (r *PassReport) FailedPlugins() []PluginStatus {
	if r == nil {
		return nil
	}
	var failed []PluginStatus
	for _, p := range r.Plugins {
		if p.State == StateFailed {
			failed = append(failed, p)
		}
	}
	return failed
}
