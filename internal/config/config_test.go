package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func mapLookup(m map[string]string) Lookup {
	return func(name string) string { return m[name] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFrom(mapLookup(nil))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Engine.LargeFileThreshold != 200*1024*1024 {
		t.Errorf("Engine.LargeFileThreshold = %d, want %d", cfg.Engine.LargeFileThreshold, 200*1024*1024)
	}
	if cfg.Engine.Interpreter != "python3" {
		t.Errorf("Engine.Interpreter = %q, want %q", cfg.Engine.Interpreter, "python3")
	}
	if cfg.Jobs.CancelGrace != 5*time.Second {
		t.Errorf("Jobs.CancelGrace = %v, want %v", cfg.Jobs.CancelGrace, 5*time.Second)
	}
	if cfg.Jobs.CheckInterval != 100 {
		t.Errorf("Jobs.CheckInterval = %d, want %d", cfg.Jobs.CheckInterval, 100)
	}
	if cfg.Viewer.DefaultPageSize != 100 {
		t.Errorf("Viewer.DefaultPageSize = %d, want %d", cfg.Viewer.DefaultPageSize, 100)
	}
	if cfg.Viewer.CSVEncoding != "utf-8" {
		t.Errorf("Viewer.CSVEncoding = %q, want %q", cfg.Viewer.CSVEncoding, "utf-8")
	}
}

func TestLoad_OverrideDefaults(t *testing.T) {
	cfg, err := LoadFrom(mapLookup(map[string]string{
		"SERVER_PORT":          "9090",
		"ENGINE_MAX_PROCESSES": "8",
		"ENGINE_BINARY":        "/opt/engine/sheet-engine",
		"JOBS_CANCEL_GRACE":    "1m30s",
		"LOG_LEVEL":            "debug",
	}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9090)
	}
	if cfg.Engine.MaxProcesses != 8 {
		t.Errorf("Engine.MaxProcesses = %d, want %d", cfg.Engine.MaxProcesses, 8)
	}
	if cfg.Engine.Binary != "/opt/engine/sheet-engine" {
		t.Errorf("Engine.Binary = %q", cfg.Engine.Binary)
	}
	if cfg.Jobs.CancelGrace != 90*time.Second {
		t.Errorf("Jobs.CancelGrace = %v, want %v", cfg.Jobs.CancelGrace, 90*time.Second)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_ProcessEnvironment(t *testing.T) {
	os.Setenv("VIEWER_MAX_PAGE_SIZE", "250")
	defer os.Unsetenv("VIEWER_MAX_PAGE_SIZE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Viewer.MaxPageSize != 250 {
		t.Errorf("Viewer.MaxPageSize = %d, want %d", cfg.Viewer.MaxPageSize, 250)
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad integer", map[string]string{"SERVER_PORT": "eighty"}, "SERVER_PORT"},
		{"bad duration", map[string]string{"JOBS_RETENTION": "soon"}, "JOBS_RETENTION"},
		{"bad encoding", map[string]string{"VIEWER_CSV_ENCODING": "ebcdic"}, "VIEWER_CSV_ENCODING"},
		{"page sizes inverted", map[string]string{"VIEWER_DEFAULT_PAGE_SIZE": "500", "VIEWER_MAX_PAGE_SIZE": "10"}, "VIEWER_MAX_PAGE_SIZE"},
		{"zero processes", map[string]string{"ENGINE_MAX_PROCESSES": "0"}, "ENGINE_MAX_PROCESSES"},
		{"zero retention", map[string]string{"JOBS_RETENTION": "0s"}, "JOBS_RETENTION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(mapLookup(tt.env))
			if err == nil {
				t.Fatal("LoadFrom() expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %s: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg, err := LoadFrom(mapLookup(nil))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	cfg.Server.Port = 99999
	cfg.Logging.Level = "verbose"

	err = cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, want := range []string{"SERVER_PORT", "LOG_LEVEL"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestServerAddr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"", 8080, ":8080"},
		{"0.0.0.0", 8080, "0.0.0.0:8080"},
		{"127.0.0.1", 3000, "127.0.0.1:3000"},
	}

	for _, tt := range tests {
		cfg := &ServerConfig{Host: tt.host, Port: tt.port}
		if got := cfg.Addr(); got != tt.want {
			t.Errorf("Addr() with host=%q, port=%d = %q, want %q", tt.host, tt.port, got, tt.want)
		}
	}
}

func TestConfigString(t *testing.T) {
	cfg, err := LoadFrom(mapLookup(nil))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	str := cfg.String()
	for _, want := range []string{"Port: 8080", "MaxProcesses: 4", `CSVEncoding: "utf-8"`} {
		if !strings.Contains(str, want) {
			t.Errorf("String() = %q, missing %q", str, want)
		}
	}
}

func TestSecurityLists(t *testing.T) {
	cfg, err := LoadFrom(mapLookup(map[string]string{
		"API_KEYS":        " alpha, ,beta ",
		"TRUSTED_PROXIES": "10.0.0.0/8",
	}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	keys := cfg.Security.Keys()
	if len(keys) != 2 || keys[0] != "alpha" || keys[1] != "beta" {
		t.Errorf("Keys() = %q, want [alpha beta]", keys)
	}
	if got := cfg.Security.Proxies(); len(got) != 1 || got[0] != "10.0.0.0/8" {
		t.Errorf("Proxies() = %q, want [10.0.0.0/8]", got)
	}
	if cfg.Security.RateLimit != 600 {
		t.Errorf("Security.RateLimit = %d, want 600", cfg.Security.RateLimit)
	}
	if got := (&SecurityConfig{}).Keys(); got != nil {
		t.Errorf("empty Keys() = %q, want nil", got)
	}
}
