package compat

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Violation describes a single unsatisfied dependency requirement.
type Violation struct {
	Dependency  string `json:"dependency"`
	Requirement string `json:"requirement"`
	Loaded      string `json:"loaded,omitempty"`
	Message     string `json:"message"`
}

// CheckResult is the outcome of negotiating one plugin's requirements.
type CheckResult struct {
	Compatible bool        `json:"compatible"`
	Violations []Violation `json:"violations,omitempty"`
}

// Reason returns a single human-readable summary of the violations, or an
// empty string when compatible.
func (r CheckResult) Reason() string {
	if r.Compatible || len(r.Violations) == 0 {
		return ""
	}
	return r.Violations[0].Message
}

// Negotiator compares plugin dependency requirements against the host's
// committed shared dependency versions.
type Negotiator struct {
	loaded map[string]*semver.Version
	strict bool
}

// NewNegotiator builds a negotiator over the host's loaded shared dependency
// versions. Versions must be valid semver.
func NewNegotiator(loadedVersions map[string]string, strict bool) (*Negotiator, error) {
	loaded := make(map[string]*semver.Version, len(loadedVersions))
	for name, raw := range loadedVersions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid version for shared dependency %s: %w", name, err)
		}
		loaded[name] = v
	}

	return &Negotiator{
		loaded: loaded,
		strict: strict,
	}, nil
}

// Strict reports whether unsatisfied requirements refuse registration.
func (n *Negotiator) Strict() bool {
	return n.strict
}

// LoadedVersion returns the host's committed version of a shared dependency.
func (n *Negotiator) LoadedVersion(name string) (string, bool) {
	v, ok := n.loaded[name]
	if !ok {
		return "", false
	}
	return v.String(), true
}

// Check negotiates a plugin's declared requirements. Requirements are
// evaluated in dependency name order so results are deterministic. No
// declared requirements means always compatible.
func (n *Negotiator) Check(requirements map[string]string) CheckResult {
	if len(requirements) == 0 {
		return CheckResult{Compatible: true}
	}

	names := make([]string, 0, len(requirements))
	for name := range requirements {
		names = append(names, name)
	}
	sort.Strings(names)

	result := CheckResult{Compatible: true}
	for _, name := range names {
		if v := n.checkOne(name, requirements[name]); v != nil {
			result.Compatible = false
			result.Violations = append(result.Violations, *v)
		}
	}

	return result
}

func (n *Negotiator) checkOne(name, requirement string) *Violation {
	constraint, err := semver.NewConstraint(requirement)
	if err != nil {
		return &Violation{
			Dependency:  name,
			Requirement: requirement,
			Message:     fmt.Sprintf("invalid requirement %q for %s: %v", requirement, name, err),
		}
	}

	loaded, ok := n.loaded[name]
	if !ok {
		return &Violation{
			Dependency:  name,
			Requirement: requirement,
			Message:     fmt.Sprintf("shared dependency %s is not loaded in the host", name),
		}
	}

	if !constraint.Check(loaded) {
		return &Violation{
			Dependency:  name,
			Requirement: requirement,
			Loaded:      loaded.String(),
			Message: fmt.Sprintf("%s %s does not satisfy required range %s",
				name, loaded.String(), requirement),
		}
	}

	return nil
}
