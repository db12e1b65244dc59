package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Composition metrics
	CompositionPassesTotal  *prometheus.CounterVec
	CompositionPassDuration prometheus.Histogram
	PluginFailuresTotal     *prometheus.CounterVec

	// Remote loader metrics
	RemoteLoadsTotal        *prometheus.CounterVec
	RemoteLoadDuration      *prometheus.HistogramVec
	RemoteLoadsDeduplicated prometheus.Counter
	ManifestCacheHitsTotal  prometheus.Counter

	// Resolution metrics
	OverrideResolutionsTotal *prometheus.CounterVec
	OverrideStoreOpsTotal    *prometheus.CounterVec

	// Registry metrics
	RegistryPlugins     prometheus.Gauge
	RegistryEventsTotal *prometheus.CounterVec

	// Remote health metrics
	RemoteProbesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tessera_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tessera_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tessera_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		CompositionPassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tessera_composition_passes_total",
				Help: "Total number of composition passes",
			},
			[]string{"trigger", "status"},
		),
		CompositionPassDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tessera_composition_pass_duration_seconds",
				Help:    "Composition pass duration in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		PluginFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tessera_plugin_failures_total",
				Help: "Total number of plugin composition failures",
			},
			[]string{"kind"},
		),

		RemoteLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tessera_remote_loads_total",
				Help: "Total number of remote loads",
			},
			[]string{"status"},
		),
		RemoteLoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tessera_remote_load_duration_seconds",
				Help:    "Remote load duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"remote"},
		),
		RemoteLoadsDeduplicated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tessera_remote_loads_deduplicated_total",
				Help: "Total number of load requests coalesced into an in-flight load",
			},
		),
		ManifestCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tessera_manifest_cache_hits_total",
				Help: "Total number of manifest cache hits",
			},
		),

		OverrideResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tessera_override_resolutions_total",
				Help: "Total number of remote address resolutions by winning tier",
			},
			[]string{"tier"},
		),
		OverrideStoreOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tessera_override_store_operations_total",
				Help: "Total number of override store operations",
			},
			[]string{"backend", "operation", "status"},
		),

		RegistryPlugins: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tessera_registry_plugins",
				Help: "Number of currently registered plugins",
			},
		),
		RegistryEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tessera_registry_events_total",
				Help: "Total number of registry change events",
			},
			[]string{"type"},
		),

		RemoteProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tessera_remote_probes_total",
				Help: "Total number of remote reachability probes",
			},
			[]string{"remote", "status"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.CompositionPassesTotal,
		m.CompositionPassDuration,
		m.PluginFailuresTotal,
		m.RemoteLoadsTotal,
		m.RemoteLoadDuration,
		m.RemoteLoadsDeduplicated,
		m.ManifestCacheHitsTotal,
		m.OverrideResolutionsTotal,
		m.OverrideStoreOpsTotal,
		m.RegistryPlugins,
		m.RegistryEventsTotal,
		m.RemoteProbesTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler returns the scrape handler for a registry.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
