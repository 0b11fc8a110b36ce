package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/kiln/internal/ctxlog"
	"github.com/vk/kiln/internal/recipe"
	"github.com/vk/kiln/internal/store"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	errW   io.Writer
	logger *slog.Logger
	loader recipe.Loader
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger.
func NewApp(outW, errW io.Writer, cfg *Config, loader recipe.Loader) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, errW)
	logger.Debug("Logger configured successfully.")

	return &App{
		outW:   outW,
		errW:   errW,
		logger: logger,
		loader: loader,
	}
}

// Run executes the configured command.
func (a *App) Run(ctx context.Context, cfg *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.", "command", cfg.Command)

	st, err := store.Open(cfg.StoreDir)
	if err != nil {
		return fmt.Errorf("failed to open image store at %s: %w", cfg.StoreDir, err)
	}
	defer st.Close()

	switch cfg.Command {
	case CommandBuild:
		return a.runBuild(ctx, cfg, st)
	case CommandServe:
		return a.runServe(ctx, cfg, st)
	case CommandPush:
		return a.runPush(ctx, cfg, st)
	case CommandExport:
		return a.runExport(ctx, cfg, st)
	default:
		return fmt.Errorf("unknown command %q", cfg.Command)
	}
}
