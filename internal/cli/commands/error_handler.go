package commands

import (
	"fmt"
	"os"

	"github.com/jehrhardt/makedev/internal/errors"
	"github.com/jehrhardt/makedev/internal/logger"
)

// HandleError processes errors and provides user-friendly output
func HandleError(err error) error {
	if err == nil {
		return nil
	}

	appErr, ok := errors.AsError(err)
	if !ok {
		return err
	}

	logger.WithError(err).Debug("Command failed")

	switch appErr.Code {
	case errors.ErrNotFound:
		return fmt.Errorf("%s\n\nTip: Use 'makedev list' to see available environments.", appErr.Message)
	case errors.ErrAlreadyExists:
		return fmt.Errorf("%s\n\nTip: Pick a different name or destroy the existing environment first.", appErr.Message)
	case errors.ErrAdapterUnavailable:
		return fmt.Errorf("%s\n\nTip: Check that the container engine is running and the repository path is correct.", appErr.Message)
	case errors.ErrDirtyWorktree:
		return fmt.Errorf("%s\n\nTip: Commit or stash the changes, or destroy the environment to discard them.", appErr.Message)
	case errors.ErrInvalidState:
		return fmt.Errorf("%s\n\nTip: Use 'makedev status <name>' to check the environment's current state.", appErr.Message)
	default:
		return fmt.Errorf("%s", appErr.Message)
	}
}

// ExitOnError prints a processed error and exits non-zero
func ExitOnError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", HandleError(err))
	os.Exit(1)
}

// ExitCodeError carries the exit status of a command that ran to completion
// inside a container. It propagates through the command tree so the process
// can exit with that status after deferred cleanup has run.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}
