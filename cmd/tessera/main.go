package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/tessera-io/tessera/pkg/api"
	"github.com/tessera-io/tessera/pkg/compat"
	"github.com/tessera-io/tessera/pkg/composer"
	"github.com/tessera-io/tessera/pkg/config"
	"github.com/tessera-io/tessera/pkg/httputil"
	"github.com/tessera-io/tessera/pkg/observability"
	"github.com/tessera-io/tessera/pkg/platform"
	"github.com/tessera-io/tessera/pkg/registry"
	"github.com/tessera-io/tessera/pkg/remote"
	"github.com/tessera-io/tessera/pkg/resolve"
)

// sessionOverridesKey is the redis hash backing the session override tier.
const sessionOverridesKey = "tessera:session-overrides"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tessera: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	domainLog := newDomainLogger(cfg.Observability.LogLevel)

	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(promRegistry)
	}

	fetcher := remote.NewHTTPFetcher(cfg.Loader.LoadTimeout)
	loader := remote.NewLoader(fetcher, domainLog,
		remote.WithTimeout(cfg.Loader.LoadTimeout),
		remote.WithManifestCacheTTL(cfg.Loader.ManifestCacheTTL),
	)

	sharedVersions, err := compat.LoadVersionsFile(cfg.Compat.DependenciesPath)
	if err != nil {
		return err
	}
	negotiator, err := compat.NewNegotiator(sharedVersions, cfg.Compat.Strict)
	if err != nil {
		return err
	}

	reg := registry.New(negotiator, domainLog)
	if metrics != nil {
		reg.Subscribe(func(ev registry.Event) {
			metrics.RegistryEventsTotal.WithLabelValues(string(ev.Type)).Inc()
			metrics.RegistryPlugins.Set(float64(reg.Count()))
		})
	}

	var store resolve.OverrideStore
	store, err = resolve.NewOverrideStore(cfg.Resolver.Store)
	if err != nil {
		return err
	}
	if metrics != nil {
		backend := cfg.Resolver.Store.Type
		if backend == "" {
			backend = "file"
		}
		store = resolve.NewInstrumentedStore(store, backend, metrics.OverrideStoreOpsTotal)
	}

	var redisClient *redis.Client
	var sessionSource *resolve.RedisSource
	if cfg.Resolver.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Resolver.RedisAddr,
			Password: cfg.Resolver.RedisPassword,
			DB:       cfg.Resolver.RedisDB,
		})
		sessionSource = resolve.NewRedisSource(redisClient, sessionOverridesKey)
	}

	var fileSource *resolve.FileSource
	if cfg.Resolver.WatchDir != "" {
		fileSource, err = resolve.NewFileSource(filepath.Join(cfg.Resolver.WatchDir, "overrides.json"), domainLog)
		if err != nil {
			return err
		}
	}

	defaults, err := loadDefaults(cfg.Resolver.DefaultsPath)
	if err != nil {
		return err
	}

	// Every live tier is reduced to an in-memory snapshot once per pass, so
	// resolution itself stays pure.
	sources := func(ctx context.Context) (resolve.Sources, error) {
		persisted, err := resolve.SnapshotStore(ctx, store)
		if err != nil {
			return resolve.Sources{}, err
		}

		s := resolve.Sources{
			Persisted: persisted,
			Defaults:  defaults,
		}
		if fileSource != nil {
			s.Persisted = resolve.FirstOf(persisted, fileSource)
		}
		if sessionSource != nil {
			session, err := sessionSource.Snapshot(ctx)
			if err != nil {
				return resolve.Sources{}, err
			}
			s.Session = session
		}
		return s, nil
	}

	configLoader := platform.NewLoader(platform.Chain{
		ExplicitAddress: cfg.Platform.ExplicitAddress,
		PersistedPath:   cfg.Platform.PersistedPath,
		DefaultAddress:  cfg.Platform.DefaultAddress,
		Fetcher:         fetcher,
	}, domainLog)

	engine := composer.NewEngine(configLoader, resolve.NewResolver(domainLog), loader, reg, composer.Options{
		Sources: sources,
		Retry: composer.RetryConfig{
			MaxAttempts:  cfg.Composer.RetryMaxAttempts,
			InitialDelay: cfg.Composer.RetryInitialDelay,
			MaxDelay:     cfg.Composer.RetryMaxDelay,
		},
		Concurrency: cfg.Composer.Concurrency,
		Metrics:     metrics,
	}, domainLog)

	var monitor *composer.Monitor
	if cfg.Composer.MonitorSchedule != "" {
		monitor = composer.NewMonitor(engine, fetcher, metrics, domainLog)
		if err := monitor.Start(cfg.Composer.MonitorSchedule); err != nil {
			return fmt.Errorf("failed to start remote monitor: %w", err)
		}
	}

	apiServer := api.NewServer(engine, reg, loader, store, logger, api.Options{
		Monitor:        monitor,
		Metrics:        metrics,
		TracingEnabled: cfg.Observability.OTelEnabled,
		AllowedOrigins: cfg.Server.CORSOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(redisClient)
	health.RegisterCheck("composer", engine.HealthCheck)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if metrics != nil {
		healthMux.Handle("/metrics", observability.MetricsHandler(promRegistry))
	}
	healthSrv := &http.Server{
		Addr: cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: httputil.Chain(
			httputil.RequestIDMiddleware,
			httputil.RecoveryMiddleware(logger),
		)(healthMux),
	}

	// The initial pass runs in the background: readiness stays false until it
	// completes, and per-plugin failures never block startup.
	go func() {
		report, err := engine.Initialize(context.Background())
		if err != nil {
			logger.WithError(err).Error("Initial composition pass failed")
			return
		}
		logger.WithFields(map[string]interface{}{
			"registered": report.Registered,
			"failed":     report.Failed,
			"config":     report.ConfigSource,
		}).Info("Initial composition pass complete")
	}()

	go func() {
		logger.Infof("Health/metrics server listening on %s", healthSrv.Addr)
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	go func() {
		logger.Infof("Tessera API server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("API server failed")
			os.Exit(1)
		}
	}()

	sm := observability.NewShutdownManager(logger, srv, cfg.Server.ShutdownTimeout)
	sm.RegisterShutdownFunc(healthSrv.Shutdown)
	if monitor != nil {
		sm.RegisterShutdownFunc(monitor.Stop)
	}
	sm.RegisterShutdownFunc(func(context.Context) error { return store.Close() })
	if fileSource != nil {
		sm.RegisterShutdownFunc(func(context.Context) error { return fileSource.Close() })
	}
	if redisClient != nil {
		sm.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}
	if providers != nil {
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	return sm.WaitForShutdown()
}

// loadDefaults reads the stable default address map. No path means an empty
// tier: every remote must then come from an override.
func loadDefaults(path string) (*resolve.MapSource, error) {
	if path == "" {
		return resolve.NewMapSource(nil), nil
	}
	return resolve.LoadAddressFile(path)
}

// newDomainLogger builds the logrus logger used by the composition packages,
// mirroring the configured level.
func newDomainLogger(level observability.LogLevel) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	switch level {
	case observability.DebugLevel:
		log.SetLevel(logrus.DebugLevel)
	case observability.WarnLevel:
		log.SetLevel(logrus.WarnLevel)
	case observability.ErrorLevel:
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}
