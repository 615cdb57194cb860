package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Lookup resolves an environment variable name to its value ("" when unset).
type Lookup func(name string) string

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration through lookup instead of the process
// environment. Tests use it with a map-backed lookup.
func LoadFrom(lookup Lookup) (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem(), lookup); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// loadStruct recursively populates struct fields from the lookup.
func loadStruct(v reflect.Value, lookup Lookup) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(fieldVal, lookup); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value := strings.TrimSpace(lookup(envName))
		if value == "" {
			if field.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Engine validation
	if c.Engine.LargeFileThreshold <= 0 {
		errs = append(errs, "ENGINE_LARGE_FILE_THRESHOLD must be positive")
	}
	if c.Engine.MaxProcesses <= 0 {
		errs = append(errs, "ENGINE_MAX_PROCESSES must be positive")
	}
	if c.Engine.MaxWait <= 0 {
		errs = append(errs, "ENGINE_MAX_WAIT must be positive")
	}
	if c.Engine.Timeout <= 0 {
		errs = append(errs, "ENGINE_TIMEOUT must be positive")
	}

	// Jobs validation
	if c.Jobs.CancelGrace <= 0 {
		errs = append(errs, "JOBS_CANCEL_GRACE must be positive")
	}
	if c.Jobs.Retention <= 0 {
		errs = append(errs, "JOBS_RETENTION must be positive")
	}
	if c.Jobs.CheckInterval <= 0 {
		errs = append(errs, "JOBS_CHECK_INTERVAL must be positive")
	}

	// Viewer validation
	if c.Viewer.DefaultPageSize <= 0 {
		errs = append(errs, "VIEWER_DEFAULT_PAGE_SIZE must be positive")
	}
	if c.Viewer.MaxPageSize < c.Viewer.DefaultPageSize {
		errs = append(errs, fmt.Sprintf("VIEWER_MAX_PAGE_SIZE (%d) must be >= VIEWER_DEFAULT_PAGE_SIZE (%d)",
			c.Viewer.MaxPageSize, c.Viewer.DefaultPageSize))
	}
	validEncodings := map[string]bool{"utf-8": true, "windows-1252": true, "iso-8859-1": true}
	if !validEncodings[strings.ToLower(c.Viewer.CSVEncoding)] {
		errs = append(errs, fmt.Sprintf("VIEWER_CSV_ENCODING (%q) must be one of: utf-8, windows-1252, iso-8859-1", c.Viewer.CSVEncoding))
	}
	if c.Viewer.TypeSampleRows < 0 {
		errs = append(errs, "VIEWER_TYPE_SAMPLE_ROWS must be non-negative")
	}

	// Security validation
	if c.Security.RateLimit < 0 {
		errs = append(errs, "RATE_LIMIT_PER_MINUTE must be non-negative")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a compact representation of the config for logging.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Engine: {Binary: %q, Interpreter: %q, LargeFileThreshold: %d, MaxProcesses: %d}, ",
		c.Engine.Binary, c.Engine.Interpreter, c.Engine.LargeFileThreshold, c.Engine.MaxProcesses)
	fmt.Fprintf(&b, "Jobs: {CancelGrace: %s, Retention: %s}, ", c.Jobs.CancelGrace, c.Jobs.Retention)
	fmt.Fprintf(&b, "Viewer: {DefaultPageSize: %d, MaxPageSize: %d, CSVEncoding: %q}, ",
		c.Viewer.DefaultPageSize, c.Viewer.MaxPageSize, c.Viewer.CSVEncoding)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
