// Package compat negotiates plugin dependency requirements against the
// versions of shared singleton dependencies the host has already loaded.
//
// # Singleton Semantics
//
// The host commits to one version of each shared dependency for its entire
// lifetime. A plugin declares semver ranges for the shared dependencies it
// needs; negotiation compares each range against the host's committed version
// and never renegotiates per plugin.
//
// # Strictness
//
// In non-strict mode an unsatisfied range is a warning-level incompatibility:
// the plugin still registers and the mismatch is logged. In strict mode it is
// a hard failure and the plugin is excluded from the active set.
//
// # Edge Cases
//
// A plugin with no declared requirements is always compatible (optimistic
// default).
package compat
