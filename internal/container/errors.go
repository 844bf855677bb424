package container

import (
	"fmt"
	"strings"

	"github.com/jehrhardt/makedev/internal/constants"
)

// ErrorKind classifies a container runtime failure
type ErrorKind string

const (
	// KindNotFound indicates the container or image was not found
	KindNotFound ErrorKind = "not_found"
	// KindAlreadyRunning indicates the container is already running
	KindAlreadyRunning ErrorKind = "already_running"
	// KindUnavailable indicates the container engine is unreachable
	KindUnavailable ErrorKind = "unavailable"
	// KindExecFailed indicates a command execution failure inside the container
	KindExecFailed ErrorKind = "exec_failed"
	// KindTimeout indicates the call exceeded its deadline; the true state of
	// the operation is unknown
	KindTimeout ErrorKind = "timeout"
	// KindUnknown indicates an unclassified engine failure
	KindUnknown ErrorKind = "unknown"
)

// RuntimeError represents a detailed container engine failure
type RuntimeError struct {
	Kind        ErrorKind
	Operation   string
	ContainerID string
	Message     string
	Underlying  error
	Output      string
}

// Error implements the error interface
func (e *RuntimeError) Error() string {
	parts := []string{e.Message}

	if e.ContainerID != "" {
		parts = append(parts, fmt.Sprintf("container=%s", e.ContainerID))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("operation=%s", e.Operation))
	}
	if e.Output != "" {
		output := strings.TrimSpace(e.Output)
		if len(output) > constants.MaxErrorOutputLength {
			output = output[:constants.MaxErrorOutputLength] + "..."
		}
		parts = append(parts, fmt.Sprintf("output=%s", output))
	}
	if e.Underlying != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Underlying))
	}

	return strings.Join(parts, ", ")
}

// Unwrap returns the underlying error
func (e *RuntimeError) Unwrap() error {
	return e.Underlying
}

// newRuntimeError builds a RuntimeError classified from engine output
func newRuntimeError(operation, containerID string, err error, output []byte) *RuntimeError {
	return &RuntimeError{
		Kind:        classifyEngineError(string(output), err),
		Operation:   operation,
		ContainerID: containerID,
		Message:     fmt.Sprintf("container engine %s failed", operation),
		Underlying:  err,
		Output:      string(output),
	}
}

// classifyEngineError determines the error kind from engine output
func classifyEngineError(output string, err error) ErrorKind {
	combined := strings.ToLower(output)
	if err != nil {
		combined += " " + strings.ToLower(err.Error())
	}

	switch {
	case strings.Contains(combined, "no such container") ||
		strings.Contains(combined, "no such image") ||
		strings.Contains(combined, "no such object") ||
		strings.Contains(combined, "pull access denied") ||
		strings.Contains(combined, "repository does not exist"):
		return KindNotFound
	case strings.Contains(combined, "already in use") ||
		strings.Contains(combined, "is already running") ||
		strings.Contains(combined, "already started"):
		return KindAlreadyRunning
	case strings.Contains(combined, "cannot connect to the docker daemon") ||
		strings.Contains(combined, "daemon") && strings.Contains(combined, "running") ||
		strings.Contains(combined, "executable file not found") ||
		strings.Contains(combined, "command not found"):
		return KindUnavailable
	case strings.Contains(combined, "context deadline exceeded") ||
		strings.Contains(combined, "signal: killed"):
		return KindTimeout
	default:
		return KindUnknown
	}
}
