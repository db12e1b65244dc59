// Package config loads application configuration from TESSERA_* environment
// variables with sensible defaults, and validates it at startup.
//
// This is the service's own configuration (ports, store backends, timeouts,
// observability switches). The composition document the service loads and
// hot-reloads lives in pkg/platform.
package config
