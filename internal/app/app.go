// Package app wires the application together: configuration, registry,
// adapters, engine, CLI and control-plane server.
package app

import (
	"fmt"

	"github.com/jehrhardt/makedev/internal/cli"
	"github.com/jehrhardt/makedev/internal/config"
	"github.com/jehrhardt/makedev/internal/container"
	"github.com/jehrhardt/makedev/internal/db"
	"github.com/jehrhardt/makedev/internal/engine"
	"github.com/jehrhardt/makedev/internal/git"
	"github.com/jehrhardt/makedev/internal/logger"
	"github.com/jehrhardt/makedev/internal/server"

	"context"
)

// App holds the application's long-lived components. Heavy dependencies are
// built on first use so lightweight commands stay lightweight.
type App struct {
	cfg    *config.Config
	db     *db.DB
	engine *engine.Engine
	server *server.Server
}

// New creates the application, loading configuration once
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.SetLevel(cfg.Log.Level)
	return &App{cfg: cfg}, nil
}

// Config returns the loaded configuration
func (a *App) Config() *config.Config {
	return a.cfg
}

// Engine builds or returns the orchestration engine
func (a *App) Engine() (*engine.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}

	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}

	database, err := a.database()
	if err != nil {
		return nil, err
	}

	gitMgr := git.NewWorktreeManager(a.cfg.Git.RepoPath, a.cfg.Storage.WorktreesPath)
	runtime := a.runtime()

	a.engine = engine.New(db.NewEnvironmentRepository(database), gitMgr, runtime, a.cfg)
	return a.engine, nil
}

// Server builds or returns the control-plane server
func (a *App) Server() (*server.Server, error) {
	if a.server != nil {
		return a.server, nil
	}

	eng, err := a.Engine()
	if err != nil {
		return nil, err
	}

	a.server = server.New(a.cfg, eng, a.db, a.runtime())
	return a.server, nil
}

// Run executes the CLI until completion or ctx cancellation
func (a *App) Run(ctx context.Context, args []string) error {
	defer a.Close()
	return cli.New(a).ExecuteWithContext(ctx, args)
}

// Close releases the application's resources
func (a *App) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *App) database() (*db.DB, error) {
	if a.db != nil {
		return a.db, nil
	}

	database, err := db.New(db.DefaultConfig(a.cfg.Storage.DatabasePath))
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate registry database: %w", err)
	}

	a.db = database
	return a.db, nil
}

func (a *App) runtime() container.Runtime {
	return container.NewDockerRuntime(container.Options{
		Engine:       a.cfg.Container.Engine,
		Socket:       a.cfg.Container.Socket,
		Timeout:      a.cfg.Container.AdapterTimeout,
		BuildTimeout: a.cfg.Container.BuildTimeout,
	})
}
