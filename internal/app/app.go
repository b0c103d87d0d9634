// Package app wires configuration, logging, plan loading, and the commander
// into a runnable application.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/taskcmdr/internal/callback"
	"github.com/vk/taskcmdr/internal/commander"
	"github.com/vk/taskcmdr/internal/ctxlog"
	"github.com/vk/taskcmdr/internal/plan"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config
}

// New is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger.
func New(outW io.Writer, config *Config) *App {
	logger := newLogger(config.LogLevel, config.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	return &App{
		outW:   outW,
		logger: logger,
		config: config,
	}
}

// Run loads the configured plan, compiles it onto a commander, and drives
// the resulting task tree to closure.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	p, err := plan.Load(ctx, a.config.PlanPath)
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}

	cmdr := commander.New()
	if err := p.Build(cmdr); err != nil {
		return fmt.Errorf("failed to build task tree: %w", err)
	}
	if err := cmdr.OnEnd(func(ctx context.Context, call callback.Call) {
		if call.Err != nil {
			a.logger.Warn("Plan finished with failures.", "error", call.Err)
			return
		}
		a.logger.Info("🏁 Plan finished.")
	}); err != nil {
		return err
	}

	a.logger.Info("🚀 Starting plan execution.", "jobs", len(p.Jobs), "edges", len(p.Edges))
	if err := cmdr.Run(ctx); err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}

	a.logger.Debug("App.Run method finished.")
	return nil
}
