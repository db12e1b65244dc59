// Package platform models the declarative composition document that decides
// which plugins the host assembles, and loads it from a prioritized chain of
// sources.
//
// # Document
//
// A Config declares the platform metadata and an ordered set of tabs, each
// pointing at a remote-exposed module plus optional per-tab display
// overrides. Tab IDs are unique; the declared order field, not array
// position, drives registry enumeration.
//
// # Source Chain
//
// Loader mirrors the address override chain at the document level: an
// explicitly supplied address, then a developer-persisted document, then the
// well-known default document address, then an embedded fallback literal.
// The first source that both resolves and passes schema validation wins. A
// source that resolves but fails validation is logged and treated as absent;
// Load never propagates a validation failure while a lower tier remains.
//
// # Round-Trip
//
// Save and Clear operate on the persisted tier only, so developer tooling
// can pin and unpin a composition without touching the default document.
package platform
