// Package config loads the process-wide makedev configuration. The config is
// read once at startup and handed to every component at construction; nothing
// in the core reads it from ambient global state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/jehrhardt/makedev/internal/constants"
	"github.com/jehrhardt/makedev/internal/xdg"
)

// Config represents the global makedev configuration
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Container ContainerConfig `toml:"container"`
	Git       GitConfig       `toml:"git"`
	Log       LogConfig       `toml:"log"`
}

type ServerConfig struct {
	Host string `toml:"host"` // Control-plane bind address
	Port int    `toml:"port"` // Control-plane port
}

type StorageConfig struct {
	WorktreesPath string `toml:"worktrees_path"` // Root directory for environment worktrees
	DatabasePath  string `toml:"database_path"`  // SQLite registry location
}

type ContainerConfig struct {
	Engine         string        `toml:"engine"`          // Container engine binary (docker, podman)
	Socket         string        `toml:"socket"`          // Engine socket/address, passed via DOCKER_HOST when set
	DefaultImage   string        `toml:"default_image"`   // Image used when no devcontainer spec is found
	AdapterTimeout time.Duration `toml:"adapter_timeout"` // Bound on a single engine call
	BuildTimeout   time.Duration `toml:"build_timeout"`   // Bound on an image build
}

type GitConfig struct {
	RepoPath      string `toml:"repo_path"`      // Path of the repository worktrees are created from
	DefaultBranch string `toml:"default_branch"` // Base branch when --from is not given
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: constants.DefaultServerHost,
			Port: constants.DefaultServerPort,
		},
		Storage: StorageConfig{
			WorktreesPath: "~/makedev/worktrees",
		},
		Container: ContainerConfig{
			Engine:         "docker",
			DefaultImage:   "mcr.microsoft.com/devcontainers/base:ubuntu",
			AdapterTimeout: constants.DefaultAdapterTimeout,
			BuildTimeout:   constants.DefaultBuildTimeout,
		},
		Git: GitConfig{
			DefaultBranch: "main",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Path returns the config file location under the XDG config directory
func Path() (string, error) {
	configDir, err := xdg.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}

// Load loads the configuration from the XDG config directory, falling back
// to defaults when no file exists. Unset fields take default values.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom loads the configuration from an explicit path
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := cfg.expandAndFill(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	defaults := Default()
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaults.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Storage.WorktreesPath == "" {
		cfg.Storage.WorktreesPath = defaults.Storage.WorktreesPath
	}
	if cfg.Container.Engine == "" {
		cfg.Container.Engine = defaults.Container.Engine
	}
	if cfg.Container.DefaultImage == "" {
		cfg.Container.DefaultImage = defaults.Container.DefaultImage
	}
	if cfg.Container.AdapterTimeout == 0 {
		cfg.Container.AdapterTimeout = defaults.Container.AdapterTimeout
	}
	if cfg.Container.BuildTimeout == 0 {
		cfg.Container.BuildTimeout = defaults.Container.BuildTimeout
	}
	if cfg.Git.DefaultBranch == "" {
		cfg.Git.DefaultBranch = defaults.Git.DefaultBranch
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}

	if err := cfg.expandAndFill(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the given path
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), constants.DirPermissions); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return os.WriteFile(path, data, constants.FilePermissions)
}

// Validate checks the configuration for obvious mistakes
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Storage.WorktreesPath == "" {
		return fmt.Errorf("worktrees path cannot be empty")
	}
	if c.Container.Engine == "" {
		return fmt.Errorf("container engine cannot be empty")
	}
	return nil
}

// expandAndFill expands tilde paths and fills path fields that depend on the
// XDG directories.
func (c *Config) expandAndFill() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	expand := func(p string) string {
		if strings.HasPrefix(p, "~/") {
			return filepath.Join(homeDir, p[2:])
		}
		return p
	}

	c.Storage.WorktreesPath = expand(c.Storage.WorktreesPath)
	c.Git.RepoPath = expand(c.Git.RepoPath)

	if c.Storage.DatabasePath == "" {
		dataDir, err := xdg.DataDir()
		if err != nil {
			c.Storage.DatabasePath = filepath.Join(homeDir, ".local", "share", "makedev", "makedev.db")
		} else {
			c.Storage.DatabasePath = filepath.Join(dataDir, "makedev.db")
		}
	} else {
		c.Storage.DatabasePath = expand(c.Storage.DatabasePath)
	}

	return nil
}
