// Package constants defines application-wide constants to avoid magic numbers
package constants

import "time"

// Network and Port Constants
const (
	// DefaultServerPort is the default port for the makedev control-plane server
	DefaultServerPort = 7420

	// DefaultServerHost is the default bind address for the control-plane server
	DefaultServerHost = "localhost"
)

// File System Permissions
const (
	// DirPermissions is the standard directory permissions for makedev directories
	DirPermissions = 0755

	// FilePermissions is the standard file permissions for makedev config files
	FilePermissions = 0644
)

// Database Configuration
const (
	// DefaultMaxOpenConnections is the default maximum number of database connections
	DefaultMaxOpenConnections = 25

	// DefaultMaxIdleConnections is the default maximum number of idle database connections
	DefaultMaxIdleConnections = 5

	// DefaultConnectionLifetime is the default maximum lifetime of a database connection
	DefaultConnectionLifetime = 5 * time.Minute

	// DefaultIdleTimeout is the default database idle connection timeout
	DefaultIdleTimeout = 1 * time.Minute
)

// HTTP Configuration
const (
	// DefaultServerReadTimeout is the default server read timeout
	DefaultServerReadTimeout = 10 * time.Second

	// DefaultServerWriteTimeout is the default server write timeout
	DefaultServerWriteTimeout = 10 * time.Second

	// DefaultServerShutdownTimeout is the default server graceful shutdown timeout
	DefaultServerShutdownTimeout = 30 * time.Second
)

// Adapter Timeouts
const (
	// DefaultAdapterTimeout bounds a single container or git adapter call
	DefaultAdapterTimeout = 30 * time.Second

	// DefaultBuildTimeout bounds an image build, which can legitimately be slow
	DefaultBuildTimeout = 10 * time.Minute

	// DefaultExecTimeout is applied when a caller supplies no exec timeout
	DefaultExecTimeout = 2 * time.Minute
)

// Container Conventions
const (
	// WorkspaceDir is where an environment's worktree is mounted inside its container
	WorkspaceDir = "/workspace"

	// ContainerNamePrefix prefixes the container name of every environment
	ContainerNamePrefix = "makedev-"

	// ImageTagPrefix prefixes images built from an environment's worktree
	ImageTagPrefix = "makedev/"

	// EnvironmentLabel marks containers managed by makedev with their environment name
	EnvironmentLabel = "makedev.environment"
)

// Output Limits
const (
	// MaxErrorOutputLength is the maximum length of adapter output kept in error messages
	MaxErrorOutputLength = 200

	// ExecChunkSize is the read buffer size for streamed exec output
	ExecChunkSize = 4096
)
