// Package registry holds the set of currently composed plugins and publishes
// change notifications to subscribers.
//
// # Registration
//
// Register passes every candidate through contract validation and dependency
// negotiation before any state is touched. On failure nothing mutates and
// the result says why; on success the entry is stored and subscribers are
// notified exactly once. Registering under an existing ID replaces the prior
// entry in place (it keeps its enumeration tie-break position) and emits a
// change notification.
//
// # Ordering
//
// GetAll returns entries sorted by their declared order field ascending,
// ties broken by insertion order, regardless of registration sequence.
// GetEnabled additionally filters out explicitly disabled plugins.
//
// # Notifications
//
// Listeners run synchronously, in subscription order, exactly once per
// successful register/unregister, and only after the internal map mutation
// is complete; they never observe a transiently inconsistent registry.
//
// # Atomic Snapshots
//
// ReplaceAll swaps the entire entry set in one step so a composition pass
// can publish an internally consistent snapshot: subscribers observe either
// the old set or the new set, never a mix.
package registry
