package commands

import (
	"github.com/jehrhardt/makedev/internal/config"
	"github.com/jehrhardt/makedev/internal/engine"
	"github.com/jehrhardt/makedev/internal/server"
)

// Factory provides command dependencies lazily, so commands that never touch
// the registry or the container engine (config show, help) do not pay for
// opening them.
type Factory interface {
	// Config returns the loaded configuration.
	Config() *config.Config

	// Engine builds or returns the orchestration engine.
	Engine() (*engine.Engine, error)

	// Server builds or returns the control-plane server.
	Server() (*server.Server, error)
}
