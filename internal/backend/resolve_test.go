package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/kcoder666/sheetflow/internal/config"
	"github.com/kcoder666/sheetflow/internal/core"
)

func testResolver(cfg config.EngineConfig, onPath bool, probeErr error) *Resolver {
	r := NewResolver(cfg)
	r.lookPath = func(name string) (string, error) {
		if !onPath {
			return "", errors.New("executable file not found in $PATH")
		}
		return "/usr/bin/" + name, nil
	}
	r.probe = func(context.Context, string) error { return probeErr }
	return r
}

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolver_ExplicitBinary(t *testing.T) {
	bin := writeExecutable(t, t.TempDir(), "engine")
	r := testResolver(config.EngineConfig{Binary: bin, Interpreter: "python3"}, false, nil)

	cmd, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cmd.Mode != ModeBundled || cmd.Path != bin || len(cmd.Args) != 0 {
		t.Errorf("Resolve() = %+v", cmd)
	}
}

func TestResolver_BundleDir(t *testing.T) {
	dir := t.TempDir()
	bin := writeExecutable(t, dir, BinaryName())
	r := testResolver(config.EngineConfig{BundleDir: dir, Interpreter: "python3"}, false, nil)

	cmd, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cmd.Path != bin {
		t.Errorf("Path = %q, want %q", cmd.Path, bin)
	}
}

func TestResolver_NonExecutableBinarySkipped(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	path := filepath.Join(t.TempDir(), "engine")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := testResolver(config.EngineConfig{Binary: path, BundleDir: t.TempDir(), Interpreter: "python3"}, true, nil)
	defer r.Close()

	cmd, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cmd.Mode != ModeInline {
		t.Errorf("Mode = %q, want %q", cmd.Mode, ModeInline)
	}
}

func TestResolver_DevScript(t *testing.T) {
	script := filepath.Join(t.TempDir(), "engine.py")
	if err := os.WriteFile(script, []byte("print()"), 0o600); err != nil {
		t.Fatal(err)
	}
	r := testResolver(config.EngineConfig{BundleDir: t.TempDir(), Interpreter: "python3", Script: script}, true, nil)

	cmd, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cmd.Mode != ModeDev || cmd.Path != "/usr/bin/python3" || cmd.Args[0] != script {
		t.Errorf("Resolve() = %+v", cmd)
	}
}

func TestResolver_InlineScript(t *testing.T) {
	r := testResolver(config.EngineConfig{BundleDir: t.TempDir(), Interpreter: "python3", Script: "/missing.py"}, true, nil)

	cmd, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cmd.Mode != ModeInline {
		t.Fatalf("Mode = %q, want %q", cmd.Mode, ModeInline)
	}

	data, err := os.ReadFile(cmd.Args[0])
	if err != nil {
		t.Fatalf("inline script not written: %v", err)
	}
	if !strings.Contains(string(data), "--list-sheets") {
		t.Error("inline script does not look like the engine")
	}

	again, err := r.Resolve(context.Background())
	if err != nil || again.Args[0] != cmd.Args[0] {
		t.Errorf("second Resolve() = %+v, %v; want cached command", again, err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(cmd.Args[0]); !os.IsNotExist(err) {
		t.Errorf("inline script should be removed on Close, stat err = %v", err)
	}
}

func TestResolver_Unavailable(t *testing.T) {
	tests := []struct {
		name     string
		onPath   bool
		probeErr error
		wantText string
	}{
		{"no interpreter", false, nil, "not on PATH"},
		{"missing packages", true, errors.New("pandas/openpyxl not importable"), "pandas/openpyxl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testResolver(config.EngineConfig{BundleDir: t.TempDir(), Interpreter: "python3"}, tt.onPath, tt.probeErr)

			_, err := r.Resolve(context.Background())
			if !errors.Is(err, core.ErrEngineUnavailable) {
				t.Fatalf("Resolve() error = %v, want ErrEngineUnavailable", err)
			}
			if !strings.Contains(err.Error(), tt.wantText) {
				t.Errorf("error %q should mention %q", err, tt.wantText)
			}
			if !strings.Contains(err.Error(), core.EngineInstallGuidance) {
				t.Errorf("error %q should carry install guidance", err)
			}
		})
	}
}

func TestFormatLimits(t *testing.T) {
	if got := formatLimit(0); got != "None" {
		t.Errorf("formatLimit(0) = %q", got)
	}
	if got := formatLimit(250); got != "250" {
		t.Errorf("formatLimit(250) = %q", got)
	}
	if got := formatMB(0); got != "None" {
		t.Errorf("formatMB(0) = %q", got)
	}
	if got := formatMB(5 * 1024 * 1024); got != "5" {
		t.Errorf("formatMB(5MiB) = %q", got)
	}
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{limit: 8}
	tb.Write([]byte("0123456789"))
	tb.Write([]byte("ab"))
	if got := tb.String(); got != "456789ab" {
		t.Errorf("String() = %q, want %q", got, "456789ab")
	}
}
