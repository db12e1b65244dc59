// Package api exposes the diagnostics HTTP surface: registry introspection,
// pass status, on-demand recomposition, and the persisted override
// round-trip.
//
// Routes (all under /api/v1):
//
//	GET    /plugins            registry entries sorted by order
//	GET    /plugins/{id}       a single entry
//	GET    /status             last pass report plus remote probe results
//	POST   /reload             run a composition pass now
//	GET    /debug              registry and loader internals
//	GET    /overrides          persisted remote address overrides
//	PUT    /overrides/{remote} set a persisted override
//	DELETE /overrides/{remote} remove a persisted override
//	DELETE /overrides          clear all persisted overrides
package api
