package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/jehrhardt/makedev/internal/constants"
	"github.com/jehrhardt/makedev/internal/logger"
	"github.com/jehrhardt/makedev/internal/validation"
)

// DockerRuntime implements Runtime by driving the docker CLI
type DockerRuntime struct {
	engine       string // binary name, e.g. "docker" or "podman"
	socket       string // engine address, exported as DOCKER_HOST when set
	timeout      time.Duration
	buildTimeout time.Duration
	executor     CommandExecutor
}

// Options configures a DockerRuntime
type Options struct {
	Engine       string
	Socket       string
	Timeout      time.Duration
	BuildTimeout time.Duration
	Executor     CommandExecutor
}

// NewDockerRuntime creates a docker-CLI-backed runtime
func NewDockerRuntime(opts Options) *DockerRuntime {
	if opts.Engine == "" {
		opts.Engine = "docker"
	}
	if opts.Timeout == 0 {
		opts.Timeout = constants.DefaultAdapterTimeout
	}
	if opts.BuildTimeout == 0 {
		opts.BuildTimeout = constants.DefaultBuildTimeout
	}
	if opts.Executor == nil {
		opts.Executor = &DefaultCommandExecutor{}
	}
	return &DockerRuntime{
		engine:       opts.Engine,
		socket:       opts.Socket,
		timeout:      opts.Timeout,
		buildTimeout: opts.BuildTimeout,
		executor:     opts.Executor,
	}
}

// IsAvailable checks if the engine responds
func (r *DockerRuntime) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	cmd := r.command(ctx, "version", "--format", "{{.Server.Version}}")
	return cmd.Run() == nil
}

// BuildImage builds an image from the given context and returns its tag
func (r *DockerRuntime) BuildImage(ctx context.Context, cfg *BuildConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.buildTimeout)
	defer cancel()

	args := []string{"build", "-t", cfg.Tag}
	if cfg.Dockerfile != "" {
		args = append(args, "-f", cfg.Dockerfile)
	}
	args = append(args, cfg.ContextDir)

	logger.WithFields(logger.Fields{
		"tag":     cfg.Tag,
		"context": cfg.ContextDir,
	}).Debug("Building container image")

	cmd := r.command(ctx, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", r.classify("build", "", err, output, ctx)
	}

	return cfg.Tag, nil
}

// Create creates a container without starting it
func (r *DockerRuntime) Create(ctx context.Context, cfg *CreateConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := []string{"create", "--name", cfg.Name}
	if cfg.WorkingDir != "" {
		args = append(args, "-w", cfg.WorkingDir)
	}
	for _, env := range cfg.Env {
		args = append(args, "-e", env)
	}
	for _, m := range cfg.Mounts {
		spec := fmt.Sprintf("%s:%s", m.Source, m.Target)
		if m.ReadOnly {
			spec += ":ro"
		}
		args = append(args, "-v", spec)
	}
	for k, v := range cfg.Labels {
		args = append(args, "--label", fmt.Sprintf("%s=%s", k, v))
	}
	// Keep the sandbox alive so commands can be executed in it later.
	args = append(args, cfg.Image, "sleep", "infinity")

	cmd := r.command(ctx, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", r.classify("create", "", err, output, ctx)
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	containerID := strings.TrimSpace(lines[len(lines)-1])
	return containerID, nil
}

// Start starts a container
func (r *DockerRuntime) Start(ctx context.Context, containerID string) error {
	return r.simple(ctx, "start", containerID)
}

// Stop stops a container
func (r *DockerRuntime) Stop(ctx context.Context, containerID string) error {
	return r.simple(ctx, "stop", containerID)
}

// Remove removes a container
func (r *DockerRuntime) Remove(ctx context.Context, containerID string) error {
	if err := validation.ContainerID(containerID); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := r.command(ctx, "rm", "-f", containerID)
	if output, err := cmd.CombinedOutput(); err != nil {
		return r.classify("remove", containerID, err, output, ctx)
	}
	return nil
}

// Exec runs a command inside the container and buffers its output
func (r *DockerRuntime) Exec(ctx context.Context, containerID string, command []string, timeout time.Duration) (*ExecResult, error) {
	var stdout, stderr bytes.Buffer
	result, err := r.exec(ctx, containerID, command, timeout, &stdout, &stderr, nil)
	if result != nil {
		result.Stdout = stdout.String()
		result.Stderr = stderr.String()
	}
	return result, err
}

// ExecStream runs a command inside the container, delivering output through
// onChunk as it arrives. Output is not buffered, bounding memory for
// long-running commands.
func (r *DockerRuntime) ExecStream(ctx context.Context, containerID string, command []string, timeout time.Duration, onChunk ChunkFunc) (*ExecResult, error) {
	return r.exec(ctx, containerID, command, timeout, nil, nil, onChunk)
}

func (r *DockerRuntime) exec(ctx context.Context, containerID string, command []string, timeout time.Duration, stdout, stderr io.Writer, onChunk ChunkFunc) (*ExecResult, error) {
	if err := validation.ContainerID(containerID); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = constants.DefaultExecTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{"exec", containerID}, command...)
	cmd := r.command(ctx, args...)

	start := time.Now()

	if onChunk != nil {
		outPipe, err := cmd.StdoutPipe()
		if err != nil {
			return nil, r.classify("exec", containerID, err, nil, ctx)
		}
		errPipe, err := cmd.StderrPipe()
		if err != nil {
			return nil, r.classify("exec", containerID, err, nil, ctx)
		}
		if err := cmd.Start(); err != nil {
			return nil, r.classify("exec", containerID, err, nil, ctx)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go streamPipe(&wg, outPipe, "stdout", onChunk)
		go streamPipe(&wg, errPipe, "stderr", onChunk)
		wg.Wait()

		err = cmd.Wait()
		return r.finishExec(ctx, containerID, err, start)
	}

	cmd.Stdout = stdout
	cmd.Stderr = stderr
	err := cmd.Run()
	return r.finishExec(ctx, containerID, err, start)
}

// finishExec converts a finished exec command into a result, treating a
// non-zero exit as a successful execution with that code.
func (r *DockerRuntime) finishExec(ctx context.Context, containerID string, err error, start time.Time) (*ExecResult, error) {
	result := &ExecResult{Duration: time.Since(start)}

	if err == nil {
		return result, nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return nil, &RuntimeError{
			Kind:        KindTimeout,
			Operation:   "exec",
			ContainerID: containerID,
			Message:     "command execution timed out",
			Underlying:  err,
		}
	}

	if code, ok := exitCode(err); ok {
		result.ExitCode = code
		return result, nil
	}

	return nil, &RuntimeError{
		Kind:        KindExecFailed,
		Operation:   "exec",
		ContainerID: containerID,
		Message:     "failed to execute command in container",
		Underlying:  err,
	}
}

// ReadFile reads a file from inside the container
func (r *DockerRuntime) ReadFile(ctx context.Context, containerID, path string) ([]byte, error) {
	if err := validation.ContainerID(containerID); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := r.command(ctx, "exec", containerID, "cat", "--", path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, r.classify("read_file", containerID, err, stderr.Bytes(), ctx)
	}
	return stdout.Bytes(), nil
}

// WriteFile writes content to a file inside the container. The path is passed
// as a positional shell argument so it is never interpolated into the script.
func (r *DockerRuntime) WriteFile(ctx context.Context, containerID, path string, content []byte) error {
	if err := validation.ContainerID(containerID); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := r.command(ctx, "exec", "-i", containerID,
		"sh", "-c", `mkdir -p "$(dirname "$1")" && cat > "$1"`, "sh", path)
	cmd.Stdin = bytes.NewReader(content)

	if output, err := cmd.CombinedOutput(); err != nil {
		return r.classify("write_file", containerID, err, output, ctx)
	}
	return nil
}

// Inspect returns the live state of the container. A missing container is a
// state, not an error, so reconciliation can act on it directly.
func (r *DockerRuntime) Inspect(ctx context.Context, containerID string) (State, error) {
	if err := validation.ContainerID(containerID); err != nil {
		return StateUnknown, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := r.command(ctx, "inspect", "--format", "{{.State.Status}}", containerID)
	output, err := cmd.CombinedOutput()
	if err != nil {
		rtErr := r.classify("inspect", containerID, err, output, ctx)
		if re, ok := rtErr.(*RuntimeError); ok && re.Kind == KindNotFound {
			return StateMissing, nil
		}
		return StateUnknown, rtErr
	}

	switch State(strings.TrimSpace(string(output))) {
	case StateRunning:
		return StateRunning, nil
	case StateExited:
		return StateExited, nil
	case StateCreated:
		return StateCreated, nil
	case StatePaused:
		return StatePaused, nil
	default:
		return StateUnknown, nil
	}
}

// simple runs a one-shot lifecycle subcommand against a container
func (r *DockerRuntime) simple(ctx context.Context, operation, containerID string) error {
	if err := validation.ContainerID(containerID); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := r.command(ctx, operation, containerID)
	if output, err := cmd.CombinedOutput(); err != nil {
		return r.classify(operation, containerID, err, output, ctx)
	}
	return nil
}

// command builds an engine invocation, pointing it at the configured socket
func (r *DockerRuntime) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := r.executor.CommandContext(ctx, r.engine, args...)
	if r.socket != "" {
		cmd.Env = append(os.Environ(), "DOCKER_HOST="+r.socket)
	}
	return cmd
}

// classify converts a CLI failure into a RuntimeError, preferring a Timeout
// kind when the context deadline was the cause.
func (r *DockerRuntime) classify(operation, containerID string, err error, output []byte, ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &RuntimeError{
			Kind:        KindTimeout,
			Operation:   operation,
			ContainerID: containerID,
			Message:     fmt.Sprintf("container engine %s timed out", operation),
			Underlying:  err,
			Output:      string(output),
		}
	}
	return newRuntimeError(operation, containerID, err, output)
}

// streamPipe reads a pipe to EOF, forwarding each read as a chunk
func streamPipe(wg *sync.WaitGroup, pipe io.Reader, stream string, onChunk ChunkFunc) {
	defer wg.Done()
	buf := make([]byte, constants.ExecChunkSize)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			onChunk(Chunk{Stream: stream, Data: data})
		}
		if err != nil {
			return
		}
	}
}

// exitCode extracts the process exit code from an exec error
func exitCode(err error) (int, bool) {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return 0, false
}
