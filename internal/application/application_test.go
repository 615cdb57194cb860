package application

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kcoder666/sheetflow/internal/config"
)

func TestNew_WiresSharedBackends(t *testing.T) {
	cfg, err := config.LoadFrom(func(string) string { return "" })
	if err != nil {
		t.Fatal(err)
	}
	app := New(cfg)

	if app.Engine.Limiter() != app.Limiter {
		t.Error("engine does not use the application limiter")
	}
	if st := app.Limiter.Status(); st.Max != cfg.Engine.MaxProcesses {
		t.Errorf("limiter max = %d, want %d", st.Max, cfg.Engine.MaxProcesses)
	}
	if app.NewViewer() == app.NewViewer() {
		t.Error("NewViewer returned a shared viewer")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestViewer_OpensCSV(t *testing.T) {
	cfg, err := config.LoadFrom(func(string) string { return "" })
	if err != nil {
		t.Fatal(err)
	}
	app := New(cfg)

	path := filepath.Join(t.TempDir(), "people.csv")
	if err := os.WriteFile(path, []byte("name,age\nada,36\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	v := app.NewViewer()
	defer v.Close()

	info, err := v.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if info.TotalRows != 1 {
		t.Errorf("TotalRows = %d, want 1", info.TotalRows)
	}
	if got := app.Jobs.List(); len(got) != 0 {
		t.Errorf("jobs = %d, want none", len(got))
	}
}
