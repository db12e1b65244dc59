package api

import (
	"net/http"

	"github.com/tessera-io/tessera/pkg/composer"
	"github.com/tessera-io/tessera/pkg/httputil"
	"github.com/tessera-io/tessera/pkg/resolve"
)

// listPlugins returns the registry entries sorted by declared order. With
// ?enabled=true only the active set is returned.
func (s *Server) listPlugins(w http.ResponseWriter, r *http.Request) {
	enabledOnly, err := httputil.ParseQueryBool(r, "enabled", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries := s.registry.GetAll()
	if enabledOnly {
		entries = s.registry.GetEnabled()
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"count":   len(entries),
		"plugins": entries,
	})
}

func (s *Server) getPlugin(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	entry, exists := s.registry.Get(id)
	if !exists {
		httputil.WriteNotFoundError(w, "plugin not found: "+id)
		return
	}

	httputil.WriteSuccess(w, entry)
}

// getStatus returns the last pass report and the latest remote probe
// results.
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	report := s.engine.Status()
	if report == nil {
		httputil.WriteServiceUnavailable(w, "no composition pass has completed")
		return
	}

	var probes []composer.ProbeResult
	if s.monitor != nil {
		probes = s.monitor.Statuses()
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"lastPass": report,
		"failed":   report.FailedPlugins(),
		"remotes":  probes,
	})
}

type reloadRequest struct {
	Overrides map[string]string `json:"overrides"`
}

// reload runs a composition pass now and returns its report. Request-scoped
// address overrides, given as a JSON body or a remote/address query pair,
// outrank every other tier for this pass only and are never persisted.
func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	var body reloadRequest
	if r.ContentLength > 0 {
		if !httputil.ParseJSONOrError(w, r, &body) {
			return
		}
	}

	overrides := body.Overrides
	if name := httputil.ParseQueryString(r, "remote", ""); name != "" {
		address := httputil.ParseQueryString(r, "address", "")
		if !httputil.RequireNonEmpty(w, address, "address") {
			return
		}
		if overrides == nil {
			overrides = make(map[string]string, 1)
		}
		overrides[name] = address
	}

	var request resolve.KeyValueSource
	if len(overrides) > 0 {
		request = resolve.NewMapSource(overrides)
	}

	report, err := s.engine.ReloadWith(r.Context(), request)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccessMessage(w, "composition pass complete", report)
}

func (s *Server) getDebug(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"registry": s.registry.DebugInfo(),
		"loader":   s.loader.Stats(),
	})
}

func (s *Server) listOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := s.overrides.All(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"count":     len(overrides),
		"overrides": overrides,
	})
}

type overrideRequest struct {
	Address string `json:"address"`
}

// setOverride persists a remote address override; the next pass resolves the
// remote to it through the persisted tier.
func (s *Server) setOverride(w http.ResponseWriter, r *http.Request) {
	remote, ok := httputil.ParsePathStringOrError(w, r, "remote")
	if !ok {
		return
	}

	var body overrideRequest
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if !httputil.RequireNonEmpty(w, body.Address, "address") {
		return
	}

	if err := s.overrides.Set(r.Context(), remote, body.Address); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	s.logger.WithFields(map[string]interface{}{
		"remote":  remote,
		"address": body.Address,
	}).Info("persisted override set")

	httputil.WriteSuccessMessage(w, "override set", map[string]string{
		"remote":  remote,
		"address": body.Address,
	})
}

func (s *Server) deleteOverride(w http.ResponseWriter, r *http.Request) {
	remote, ok := httputil.ParsePathStringOrError(w, r, "remote")
	if !ok {
		return
	}

	if err := s.overrides.Delete(r.Context(), remote); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

func (s *Server) clearOverrides(w http.ResponseWriter, r *http.Request) {
	if err := s.overrides.Clear(r.Context()); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}
