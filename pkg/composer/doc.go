// Package composer orchestrates composition passes: platform config is
// loaded, each enabled tab's remote is resolved and loaded concurrently, the
// fetched descriptors are validated and negotiated, and the registry is
// swapped to the new snapshot in one step.
//
// # Failure Isolation
//
// Every tab is composed independently. A failure resolving, loading, or
// registering one plugin is converted into a per-plugin status record on the
// pass report; the other plugins are unaffected. Only a total failure to
// obtain any valid platform configuration aborts a pass.
//
// # Passes
//
// Initialize runs the first pass and is idempotent; Reload runs another pass
// on demand. Passes may overlap; the registry only ever publishes the newest
// pass's snapshot (last-writer-wins at the pass level), so two configurations
// never interleave.
//
// # Remote Health
//
// Monitor probes the currently resolved remote addresses on a cron schedule
// and records reachability. It never mutates the registry; recomposition
// stays on-demand through Reload.
package composer
