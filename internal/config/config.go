// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Engine   EngineConfig
	Jobs     JobsConfig
	Viewer   ViewerConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// EngineConfig holds settings for the external conversion engine.
type EngineConfig struct {
	// Binary is an explicit path to a bundled engine executable
	Binary string `env:"ENGINE_BINARY"`

	// BundleDir is searched for a platform-specific engine binary
	// (default: "engine" next to the running executable)
	BundleDir string `env:"ENGINE_BUNDLE_DIR"`

	// Interpreter runs the engine script in development mode (default: python3)
	Interpreter string `env:"ENGINE_INTERPRETER" default:"python3"`

	// Script is the development-mode engine script path
	Script string `env:"ENGINE_SCRIPT"`

	// LargeFileThreshold routes files at or above this size straight to the
	// engine (default: 200 MiB)
	LargeFileThreshold int64 `env:"ENGINE_LARGE_FILE_THRESHOLD" default:"209715200"`

	// MaxProcesses bounds concurrently running engine subprocesses (default: 4)
	MaxProcesses int `env:"ENGINE_MAX_PROCESSES" default:"4"`

	// MaxWait is how long a job waits for a free engine slot (default: 5m)
	MaxWait time.Duration `env:"ENGINE_MAX_WAIT" default:"5m"`

	// Timeout bounds a single engine invocation (default: 30m)
	Timeout time.Duration `env:"ENGINE_TIMEOUT" default:"30m"`
}

// JobsConfig holds background job manager settings.
type JobsConfig struct {
	// CancelGrace bounds how long a cancelled job may take to stop (default: 5s)
	CancelGrace time.Duration `env:"JOBS_CANCEL_GRACE" default:"5s"`

	// Retention keeps finished job results available for fetching (default: 5m)
	Retention time.Duration `env:"JOBS_RETENTION" default:"5m"`

	// CheckInterval is the number of rows between cancellation checks (default: 100)
	CheckInterval int `env:"JOBS_CHECK_INTERVAL" default:"100"`
}

// ViewerConfig holds streaming paginated reader settings.
type ViewerConfig struct {
	// DefaultPageSize is used when a page request omits its size (default: 100)
	DefaultPageSize int `env:"VIEWER_DEFAULT_PAGE_SIZE" default:"100"`

	// MaxPageSize caps a single page request (default: 5000)
	MaxPageSize int `env:"VIEWER_MAX_PAGE_SIZE" default:"5000"`

	// CSVEncoding is the source charset for CSV files: utf-8, windows-1252, iso-8859-1
	CSVEncoding string `env:"VIEWER_CSV_ENCODING" default:"utf-8"`

	// TypeSampleRows is how many data rows feed column type inference (default: 50)
	TypeSampleRows int `env:"VIEWER_TYPE_SAMPLE_ROWS" default:"50"`
}

// SecurityConfig holds HTTP access controls.
type SecurityConfig struct {
	// APIKeys is a comma-separated list of accepted X-API-Key values.
	// Empty disables key checks.
	APIKeys string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of proxy CIDRs or IPs whose
	// X-Real-IP and X-Forwarded-For headers are believed
	TrustedProxies string `env:"TRUSTED_PROXIES"`

	// RateLimit is the per-client request budget per minute, 0 disables (default: 600)
	RateLimit int `env:"RATE_LIMIT_PER_MINUTE" default:"600"`
}

// Keys returns the configured API keys.
func (c *SecurityConfig) Keys() []string { return splitList(c.APIKeys) }

// Proxies returns the configured trusted proxy entries.
func (c *SecurityConfig) Proxies() []string { return splitList(c.TrustedProxies) }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
