package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tessera-io/tessera/pkg/observability"
	"github.com/tessera-io/tessera/pkg/resolve"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Platform document chain configuration
	Platform PlatformConfig

	// Resolver override chain configuration
	Resolver ResolverConfig

	// Remote loader configuration
	Loader LoaderConfig

	// Compatibility negotiation configuration
	Compat CompatConfig

	// Composition configuration
	Composer ComposerConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// CORSOrigins enables CORS on the API server for the listed origins.
	// Empty leaves CORS off.
	CORSOrigins []string
}

// PlatformConfig holds the composition document chain tiers
type PlatformConfig struct {
	// ExplicitAddress is the highest-priority document address. Usually unset
	// outside of canary/ops scenarios.
	ExplicitAddress string
	// PersistedPath is the developer-persisted document on disk.
	PersistedPath string
	// DefaultAddress is the well-known default document address.
	DefaultAddress string
}

// ResolverConfig holds the remote address override chain settings
type ResolverConfig struct {
	// DefaultsPath is a JSON/YAML document mapping remote names to their
	// stable default addresses (the lowest tier).
	DefaultsPath string

	// WatchDir, when set, holds per-environment override documents kept in
	// sync via file watching (the persisted tier's file flavor).
	WatchDir string

	// Store configures the persisted override store backend.
	Store resolve.StoreConfig

	// Redis backs the session override tier. Empty disables the tier.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// LoaderConfig holds remote loader settings
type LoaderConfig struct {
	LoadTimeout      time.Duration
	ManifestCacheTTL time.Duration
}

// CompatConfig holds dependency negotiation settings
type CompatConfig struct {
	// DependenciesPath is a JSON/YAML document mapping shared dependency
	// names to their loaded versions.
	DependenciesPath string
	// Strict refuses registration on any requirement violation instead of
	// downgrading it to a warning.
	Strict bool
}

// ComposerConfig holds composition pass settings
type ComposerConfig struct {
	Concurrency int

	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration

	// MonitorSchedule is a cron expression for remote reachability probes.
	// Empty disables the monitor.
	MonitorSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Platform:      loadPlatformConfig(),
		Resolver:      loadResolverConfig(),
		Loader:        loadLoaderConfig(),
		Compat:        loadCompatConfig(),
		Composer:      loadComposerConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TESSERA_HOST", "0.0.0.0"),
		Port:            getEnv("TESSERA_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TESSERA_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TESSERA_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TESSERA_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TESSERA_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("TESSERA_HEALTH_PORT", "9090"),
		CORSOrigins:     getEnvList("TESSERA_CORS_ORIGINS"),
	}
}

// loadPlatformConfig loads the document chain tiers from environment
func loadPlatformConfig() PlatformConfig {
	return PlatformConfig{
		ExplicitAddress: getEnv("TESSERA_CONFIG_ADDRESS", ""),
		PersistedPath:   getEnv("TESSERA_CONFIG_PERSISTED_PATH", ""),
		DefaultAddress:  getEnv("TESSERA_CONFIG_DEFAULT_ADDRESS", ""),
	}
}

// loadResolverConfig loads the override chain settings from environment
func loadResolverConfig() ResolverConfig {
	return ResolverConfig{
		DefaultsPath: getEnv("TESSERA_REMOTE_DEFAULTS_PATH", ""),
		WatchDir:     getEnv("TESSERA_OVERRIDE_WATCH_DIR", ""),
		Store: resolve.StoreConfig{
			Type: getEnv("TESSERA_OVERRIDE_STORE_TYPE", "file"),
			Path: getEnv("TESSERA_OVERRIDE_STORE_PATH", "overrides.json"),
		},
		RedisAddr:     getEnv("TESSERA_REDIS_ADDR", ""),
		RedisPassword: getEnv("TESSERA_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("TESSERA_REDIS_DB", 0),
	}
}

// loadLoaderConfig loads remote loader settings from environment
func loadLoaderConfig() LoaderConfig {
	return LoaderConfig{
		LoadTimeout:      getEnvDuration("TESSERA_LOAD_TIMEOUT", 10*time.Second),
		ManifestCacheTTL: getEnvDuration("TESSERA_MANIFEST_CACHE_TTL", 5*time.Minute),
	}
}

// loadCompatConfig loads negotiation settings from environment
func loadCompatConfig() CompatConfig {
	return CompatConfig{
		DependenciesPath: getEnv("TESSERA_DEPENDENCIES_PATH", ""),
		Strict:           getEnvBool("TESSERA_STRICT_COMPAT", false),
	}
}

// loadComposerConfig loads composition settings from environment
func loadComposerConfig() ComposerConfig {
	return ComposerConfig{
		Concurrency:       getEnvInt("TESSERA_PASS_CONCURRENCY", 4),
		RetryMaxAttempts:  getEnvInt("TESSERA_RETRY_MAX_ATTEMPTS", 3),
		RetryInitialDelay: getEnvDuration("TESSERA_RETRY_INITIAL_DELAY", 250*time.Millisecond),
		RetryMaxDelay:     getEnvDuration("TESSERA_RETRY_MAX_DELAY", 5*time.Second),
		MonitorSchedule:   getEnvAllowEmpty("TESSERA_MONITOR_SCHEDULE", "@every 1m"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(strings.ToLower(getEnv("TESSERA_LOG_LEVEL", "info"))),
		MetricsEnabled:     getEnvBool("TESSERA_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TESSERA_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TESSERA_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TESSERA_OTEL_SERVICE_NAME", "tessera"),
		OTelServiceVersion: getEnv("TESSERA_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TESSERA_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Resolver.Store.Type {
	case "file", "sqlite":
		if c.Resolver.Store.Path == "" {
			return fmt.Errorf("override store path is required for %s store", c.Resolver.Store.Type)
		}
	case "":
	default:
		return fmt.Errorf("invalid override store type: %s (must be file or sqlite)", c.Resolver.Store.Type)
	}

	if c.Composer.Concurrency < 1 {
		return fmt.Errorf("pass concurrency must be at least 1")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty returns an environment variable value or a default,
// treating a set-but-empty variable as an explicit empty value
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable as a slice, or
// nil when unset
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
