package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jehrhardt/makedev/internal/container"
)

// FakeRuntime is a stateful in-memory container.Runtime. By default it
// behaves like a healthy engine; individual operations can be overridden by
// setting the matching Fn hook.
type FakeRuntime struct {
	mu         sync.Mutex
	nextID     int
	containers map[string]container.State
	calls      map[string]int

	// BuildImageFn is called by BuildImage when set
	BuildImageFn func(ctx context.Context, cfg *container.BuildConfig) (string, error)
	// CreateFn is called by Create when set
	CreateFn func(ctx context.Context, cfg *container.CreateConfig) (string, error)
	// StartFn is called by Start when set
	StartFn func(ctx context.Context, containerID string) error
	// StopFn is called by Stop when set
	StopFn func(ctx context.Context, containerID string) error
	// RemoveFn is called by Remove when set
	RemoveFn func(ctx context.Context, containerID string) error
	// ExecFn is called by Exec and ExecStream when set
	ExecFn func(ctx context.Context, containerID string, command []string) (*container.ExecResult, error)
	// InspectFn is called by Inspect when set
	InspectFn func(ctx context.Context, containerID string) (container.State, error)
	// ReadFileFn is called by ReadFile when set
	ReadFileFn func(ctx context.Context, containerID, path string) ([]byte, error)
	// WriteFileFn is called by WriteFile when set
	WriteFileFn func(ctx context.Context, containerID, path string, content []byte) error

	// Files backs ReadFile and WriteFile when the hooks are unset
	Files map[string][]byte

	// Available is returned by IsAvailable
	Available bool
}

// NewFakeRuntime creates a fake runtime with no containers
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		containers: make(map[string]container.State),
		calls:      make(map[string]int),
		Files:      make(map[string][]byte),
		Available:  true,
	}
}

// Calls returns how many times the named operation was invoked
func (f *FakeRuntime) Calls(operation string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[operation]
}

// SetState forces the recorded state of a container, simulating external
// changes like a manual docker rm.
func (f *FakeRuntime) SetState(containerID string, state container.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state == container.StateMissing {
		delete(f.containers, containerID)
		return
	}
	f.containers[containerID] = state
}

func (f *FakeRuntime) record(operation string) {
	f.mu.Lock()
	f.calls[operation]++
	f.mu.Unlock()
}

func (f *FakeRuntime) IsAvailable(ctx context.Context) bool {
	f.record("is_available")
	return f.Available
}

func (f *FakeRuntime) BuildImage(ctx context.Context, cfg *container.BuildConfig) (string, error) {
	f.record("build_image")
	if f.BuildImageFn != nil {
		return f.BuildImageFn(ctx, cfg)
	}
	return cfg.Tag, nil
}

func (f *FakeRuntime) Create(ctx context.Context, cfg *container.CreateConfig) (string, error) {
	f.record("create")
	if f.CreateFn != nil {
		return f.CreateFn(ctx, cfg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("fake-%d", f.nextID)
	f.containers[id] = container.StateCreated
	return id, nil
}

func (f *FakeRuntime) Start(ctx context.Context, containerID string) error {
	f.record("start")
	if f.StartFn != nil {
		return f.StartFn(ctx, containerID)
	}
	return f.setExisting(containerID, "start", container.StateRunning)
}

func (f *FakeRuntime) Stop(ctx context.Context, containerID string) error {
	f.record("stop")
	if f.StopFn != nil {
		return f.StopFn(ctx, containerID)
	}
	return f.setExisting(containerID, "stop", container.StateExited)
}

func (f *FakeRuntime) Remove(ctx context.Context, containerID string) error {
	f.record("remove")
	if f.RemoveFn != nil {
		return f.RemoveFn(ctx, containerID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[containerID]; !ok {
		return notFound("remove", containerID)
	}
	delete(f.containers, containerID)
	return nil
}

func (f *FakeRuntime) Exec(ctx context.Context, containerID string, command []string, timeout time.Duration) (*container.ExecResult, error) {
	f.record("exec")
	if f.ExecFn != nil {
		return f.ExecFn(ctx, containerID, command)
	}
	return &container.ExecResult{ExitCode: 0}, nil
}

func (f *FakeRuntime) ExecStream(ctx context.Context, containerID string, command []string, timeout time.Duration, onChunk container.ChunkFunc) (*container.ExecResult, error) {
	f.record("exec_stream")
	if f.ExecFn != nil {
		result, err := f.ExecFn(ctx, containerID, command)
		if err == nil && result != nil && onChunk != nil {
			if result.Stdout != "" {
				onChunk(container.Chunk{Stream: "stdout", Data: []byte(result.Stdout)})
			}
			if result.Stderr != "" {
				onChunk(container.Chunk{Stream: "stderr", Data: []byte(result.Stderr)})
			}
		}
		return result, err
	}
	return &container.ExecResult{ExitCode: 0}, nil
}

func (f *FakeRuntime) ReadFile(ctx context.Context, containerID, path string) ([]byte, error) {
	f.record("read_file")
	if f.ReadFileFn != nil {
		return f.ReadFileFn(ctx, containerID, path)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.Files[path]
	if !ok {
		return nil, notFound("read_file", containerID)
	}
	return data, nil
}

func (f *FakeRuntime) WriteFile(ctx context.Context, containerID, path string, content []byte) error {
	f.record("write_file")
	if f.WriteFileFn != nil {
		return f.WriteFileFn(ctx, containerID, path, content)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Files[path] = append([]byte(nil), content...)
	return nil
}

func (f *FakeRuntime) Inspect(ctx context.Context, containerID string) (container.State, error) {
	f.record("inspect")
	if f.InspectFn != nil {
		return f.InspectFn(ctx, containerID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.containers[containerID]
	if !ok {
		return container.StateMissing, nil
	}
	return state, nil
}

func (f *FakeRuntime) setExisting(containerID, operation string, state container.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[containerID]; !ok {
		return notFound(operation, containerID)
	}
	f.containers[containerID] = state
	return nil
}

func notFound(operation, containerID string) error {
	return &container.RuntimeError{
		Kind:        container.KindNotFound,
		Operation:   operation,
		ContainerID: containerID,
		Message:     "no such container",
	}
}
