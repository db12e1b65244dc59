package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tessera-io/tessera/pkg/composer"
	"github.com/tessera-io/tessera/pkg/httputil"
	"github.com/tessera-io/tessera/pkg/observability"
	"github.com/tessera-io/tessera/pkg/registry"
	"github.com/tessera-io/tessera/pkg/remote"
	"github.com/tessera-io/tessera/pkg/resolve"
)

// Server represents the diagnostics API server
type Server struct {
	engine    *composer.Engine
	registry  *registry.Registry
	loader    *remote.Loader
	overrides resolve.OverrideStore
	monitor   *composer.Monitor
	router    *mux.Router
	handler   http.Handler
	logger    *observability.Logger
}

// Options carries the optional server collaborators.
type Options struct {
	// Monitor supplies remote probe results for /status. Optional.
	Monitor *composer.Monitor
	// Metrics instruments requests when set.
	Metrics *observability.Metrics
	// TracingEnabled wraps the router in otelhttp when true.
	TracingEnabled bool
	// AllowedOrigins enables CORS for browser callers. Empty disables it.
	AllowedOrigins []string
}

// NewServer creates the diagnostics API server with its routes and
// middleware configured.
func NewServer(engine *composer.Engine, reg *registry.Registry, loader *remote.Loader, overrides resolve.OverrideStore, logger *observability.Logger, opts Options) *Server {
	s := &Server{
		engine:    engine,
		registry:  reg,
		loader:    loader,
		overrides: overrides,
		monitor:   opts.Monitor,
		router:    mux.NewRouter(),
		logger:    logger,
	}

	middlewares := []mux.MiddlewareFunc{
		httputil.RequestIDMiddleware,
		httputil.SessionMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
	}
	if opts.Metrics != nil {
		middlewares = append(middlewares, observability.HTTPMetricsMiddleware(opts.Metrics))
	}
	s.router.Use(middlewares...)

	s.setupRoutes()

	if opts.TracingEnabled {
		s.router.Use(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "tessera.api")
		})
	}

	// CORS sits outside the router so preflight OPTIONS requests are
	// answered without needing a matching route.
	s.handler = s.router
	if len(opts.AllowedOrigins) > 0 {
		s.handler = httputil.CORSMiddleware(opts.AllowedOrigins)(s.router)
	}

	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/plugins", s.listPlugins).Methods("GET")
	v1.HandleFunc("/plugins/{id}", s.getPlugin).Methods("GET")

	v1.HandleFunc("/status", s.getStatus).Methods("GET")
	v1.HandleFunc("/reload", s.reload).Methods("POST")
	v1.HandleFunc("/debug", s.getDebug).Methods("GET")

	v1.HandleFunc("/overrides", s.listOverrides).Methods("GET")
	v1.HandleFunc("/overrides", s.clearOverrides).Methods("DELETE")
	v1.HandleFunc("/overrides/{remote}", s.setOverride).Methods("PUT")
	v1.HandleFunc("/overrides/{remote}", s.deleteOverride).Methods("DELETE")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
