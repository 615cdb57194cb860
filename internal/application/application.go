// Package application assembles the conversion stack from configuration.
// The HTTP server and the CLI share it so both run the same tiers, limiter
// and job manager.
package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kcoder666/sheetflow/internal/backend"
	"github.com/kcoder666/sheetflow/internal/config"
	"github.com/kcoder666/sheetflow/internal/convert"
	"github.com/kcoder666/sheetflow/internal/core"
	"github.com/kcoder666/sheetflow/internal/jobs"
	"github.com/kcoder666/sheetflow/internal/viewer"
)

// App holds the wired services.
type App struct {
	Config   *config.Config
	Resolver *backend.Resolver
	Limiter  *core.ProcessLimiter
	Engine   *backend.Engine
	Memory   *backend.Memory
	Stream   *backend.Stream
	Strategy *convert.Strategy
	Jobs     *jobs.Manager
}

// New wires every service. Nothing is started; the engine is resolved
// lazily on first use.
func New(cfg *config.Config) *App {
	a := &App{
		Config:   cfg,
		Resolver: backend.NewResolver(cfg.Engine),
		Limiter:  core.NewProcessLimiter(cfg.Engine.MaxProcesses, cfg.Engine.MaxWait),
		Memory:   backend.NewMemory(),
		Stream:   backend.NewStream(),
	}
	a.Engine = backend.NewEngine(a.Resolver.Resolve, a.Limiter, cfg.Engine.Timeout)
	a.Strategy = convert.NewStrategy(a.Memory, a.Stream, a.Engine, convert.Options{
		LargeFileThreshold: cfg.Engine.LargeFileThreshold,
		CheckInterval:      cfg.Jobs.CheckInterval,
	})
	a.Jobs = jobs.NewManager(a.Strategy, jobs.Analyzer{
		Quick:              a.Memory,
		Exact:              a.Stream,
		Engine:             a.Engine,
		LargeFileThreshold: cfg.Engine.LargeFileThreshold,
	}, cfg.Jobs)

	slog.Debug("application wired",
		"large_file_threshold", cfg.Engine.LargeFileThreshold,
		"engine_max_processes", cfg.Engine.MaxProcesses,
	)
	return a
}

// NewViewer returns a fresh paginated reader over the same backends.
func (a *App) NewViewer() *viewer.Viewer {
	return viewer.New(a.Config.Viewer, a.Config.Engine.LargeFileThreshold, a.Engine, a.Stream)
}

// Shutdown cancels running jobs, waits for engine subprocesses to drain
// and removes any temporary engine script.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.Jobs.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if st := a.Limiter.Status(); st.Active > 0 {
		slog.Info("waiting for engine processes to exit", "active", st.Active)
		if err := a.Limiter.WaitForDrain(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Resolver.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
