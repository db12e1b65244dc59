// Package resolve turns a logical remote name into the concrete address its
// code is loaded from, by walking a fixed-priority chain of override sources.
//
// # Override Chain
//
// Sources are consulted high-to-low priority:
//
//  1. request: explicit per-request parameters
//  2. session: session-scoped overrides (e.g. set server-side for a canary)
//  3. persisted: developer-persisted overrides (file or sqlite backed)
//  4. default: the compiled-in map of stable versioned addresses
//
// The first source with an opinion wins. Resolution itself is pure and
// synchronous: sources are pre-fetched key/value snapshots, never live
// lookups, so Resolve performs no I/O and is trivially deterministic.
//
// # Sources
//
// MapSource wraps a plain map. FileSource snapshots a JSON or YAML document
// on disk and refreshes the snapshot when the file changes (fsnotify);
// lookups still read only the in-memory snapshot. RedisSource produces a
// snapshot of a redis hash on demand for session-scoped overrides.
//
// # Persisted Store
//
// OverrideStore is the durable tier-3 backing with Set/Delete/All, selectable
// between a file document and a sqlite database, and exposed to developer
// tooling through the diagnostics API.
package resolve
