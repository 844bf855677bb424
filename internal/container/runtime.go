// Package container implements the container-runtime adapter: image builds,
// container lifecycle, command execution and file transfer inside sandboxes.
package container

import (
	"context"
	"os/exec"
	"time"
)

// State represents the live state of a container as reported by the engine
type State string

const (
	StateRunning State = "running"
	StateExited  State = "exited"
	StateCreated State = "created"
	StatePaused  State = "paused"
	StateMissing State = "missing"
	StateUnknown State = "unknown"
)

// ExecResult holds the outcome of a command executed inside a container
type ExecResult struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

// Chunk is one piece of streamed exec output
type Chunk struct {
	Stream string // "stdout" or "stderr"
	Data   []byte
}

// ChunkFunc receives streamed output incrementally. It is called from the
// adapter's reader goroutines and must not block for long.
type ChunkFunc func(chunk Chunk)

// Mount describes a bind mount into a container
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// CreateConfig holds configuration for creating a container
type CreateConfig struct {
	Name       string
	Image      string
	WorkingDir string
	Mounts     []Mount
	Env        []string // KEY=VALUE pairs
	Labels     map[string]string
}

// BuildConfig holds configuration for building an image
type BuildConfig struct {
	ContextDir string // Build context, usually the worktree
	Dockerfile string // Relative to ContextDir; empty means no build, use Image
	Tag        string
}

// Runtime is the capability surface the orchestration engine uses for
// container operations. All calls are potentially slow I/O; implementations
// bound each call with the supplied or configured timeout and honor
// cancellation via ctx.
type Runtime interface {
	// BuildImage builds an image from cfg and returns its reference.
	BuildImage(ctx context.Context, cfg *BuildConfig) (string, error)

	// Create creates a container and returns its engine-assigned id.
	Create(ctx context.Context, cfg *CreateConfig) (string, error)

	// Start starts a created or stopped container.
	Start(ctx context.Context, containerID string) error

	// Stop stops a running container.
	Stop(ctx context.Context, containerID string) error

	// Remove removes a container. Removing an absent container returns a
	// RuntimeError with KindNotFound; idempotency is the engine's concern.
	Remove(ctx context.Context, containerID string) error

	// Exec runs command inside the container and returns the buffered result.
	// The timeout bounds the whole execution.
	Exec(ctx context.Context, containerID string, command []string, timeout time.Duration) (*ExecResult, error)

	// ExecStream runs command inside the container, delivering output
	// incrementally through onChunk, and returns the final result.
	ExecStream(ctx context.Context, containerID string, command []string, timeout time.Duration, onChunk ChunkFunc) (*ExecResult, error)

	// ReadFile reads a file from inside the container.
	ReadFile(ctx context.Context, containerID, path string) ([]byte, error)

	// WriteFile writes content to a file inside the container.
	WriteFile(ctx context.Context, containerID, path string, content []byte) error

	// Inspect returns the live state of the container.
	Inspect(ctx context.Context, containerID string) (State, error)

	// IsAvailable checks if the engine is reachable.
	IsAvailable(ctx context.Context) bool
}

// CommandExecutor abstracts process creation so tests can substitute a fake
// engine without a real docker binary.
type CommandExecutor interface {
	CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd
}

// DefaultCommandExecutor runs commands with os/exec
type DefaultCommandExecutor struct{}

// CommandContext creates a command with the given context
func (e *DefaultCommandExecutor) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}
