package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/vk/filtergrid/internal/ctxlog"
	"github.com/vk/filtergrid/internal/pipeline"
	"github.com/vk/filtergrid/internal/registry"
	"github.com/vk/filtergrid/internal/reporter"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	config   *Config
	logger   *slog.Logger
	registry *registry.Registry
	loader   *pipeline.Loader

	httpServer *http.Server
	tracker    atomic.Pointer[reporter.Tracker]
}

// NewApp creates an App with its own logger and registry. Without modules
// the core modules are registered.
func NewApp(outW io.Writer, cfg *Config, modules ...registry.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	reg.RegisterAll(modules...)
	logger.Debug("All Go modules registered.", "count", len(modules), "runners", reg.Names())

	return &App{
		outW:     outW,
		config:   cfg,
		logger:   logger,
		registry: reg,
		loader:   pipeline.NewLoader(),
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Progress returns the state of the current or last run.
func (a *App) Progress() (reporter.Snapshot, bool) {
	t := a.tracker.Load()
	if t == nil {
		return reporter.Snapshot{}, false
	}
	return t.Snapshot(), true
}

func (a *App) context(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}
