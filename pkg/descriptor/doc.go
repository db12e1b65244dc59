// Package descriptor defines the contract a plugin must satisfy to be
// composed into the host, and the structural validation applied to every
// registration candidate.
//
// # Plugin Contract
//
// A Descriptor carries the plugin's stable identity (ID), its display
// metadata, a render entry point (opaque to this package), optional lifecycle
// hooks and actions, and the semver ranges it requires of the host's shared
// singleton dependencies.
//
// # Validation
//
// Validate is a pure function with no I/O. Missing required fields (id,
// display name, render entry point) are errors and refuse registration;
// missing recommended fields (version, lifecycle hooks) are warnings and
// registration proceeds. A nil or non-object candidate is rejected without
// panicking.
//
// # Usage Example
//
//	result := descriptor.Validate(candidate)
//	if !result.Valid {
//		log.Warnf("plugin rejected: %v", result.Errors)
//	}
//
// # Related Packages
//
//   - pkg/compat: dependency version negotiation
//   - pkg/registry: stores validated descriptors
package descriptor
