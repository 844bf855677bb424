// Package validation validates caller-supplied names and paths before they
// reach the git or container adapters.
package validation

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jehrhardt/makedev/internal/errors"
)

var (
	// envNameRegex matches names legal in both branch and filesystem contexts
	envNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

	// containerIDRegex validates container IDs and names
	containerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
)

// EnvironmentName validates an environment name. The name doubles as a branch
// name and a worktree directory name, so it must be legal in both contexts.
func EnvironmentName(name string) error {
	if name == "" {
		return errors.New(errors.ErrInvalidInput, "environment name cannot be empty")
	}
	if len(name) > 100 {
		return errors.New(errors.ErrInvalidInput, "environment name too long (max 100 characters)")
	}
	if strings.Contains(name, "..") {
		return errors.Newf(errors.ErrInvalidInput, "environment name %q contains a path traversal sequence", name)
	}
	if !envNameRegex.MatchString(name) {
		return errors.Newf(errors.ErrInvalidInput, "environment name %q contains illegal characters", name)
	}
	// Git rejects these even when the charset is otherwise fine.
	if strings.HasSuffix(name, ".lock") || strings.HasSuffix(name, ".") {
		return errors.Newf(errors.ErrInvalidInput, "environment name %q is not a valid branch name", name)
	}
	return nil
}

// BranchName validates a branch name, which may contain slashes (feature/x)
// but never traversal sequences.
func BranchName(name string) error {
	if name == "" {
		return errors.New(errors.ErrInvalidInput, "branch name cannot be empty")
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return errors.Newf(errors.ErrInvalidInput, "invalid branch name %q", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || !envNameRegex.MatchString(part) {
			return errors.Newf(errors.ErrInvalidInput, "invalid branch name %q", name)
		}
	}
	return nil
}

// ContainerID validates a container ID or name to prevent injection
func ContainerID(id string) error {
	if id == "" {
		return errors.New(errors.ErrInvalidInput, "container id cannot be empty")
	}
	if len(id) > 255 {
		return errors.New(errors.ErrInvalidInput, "container id too long (max 255 characters)")
	}
	if !containerIDRegex.MatchString(id) {
		return errors.Newf(errors.ErrInvalidInput, "invalid container id %q", id)
	}
	return nil
}

// Path validates and cleans a file path to prevent traversal attacks
func Path(path string) (string, error) {
	if path == "" {
		return "", errors.New(errors.ErrInvalidInput, "path cannot be empty")
	}

	cleaned := filepath.Clean(path)

	if strings.HasPrefix(cleaned, "../") || cleaned == ".." || strings.Contains(cleaned, "/../") {
		return "", errors.Newf(errors.ErrInvalidInput, "path traversal detected in %q", path)
	}
	if strings.Contains(path, "../") {
		return "", errors.Newf(errors.ErrInvalidInput, "path traversal detected in %q", path)
	}

	return cleaned, nil
}

// ContainerPath validates a path inside a container for read/write operations.
// Container paths must be absolute so relative resolution never escapes the
// intended directory.
func ContainerPath(path string) (string, error) {
	cleaned, err := Path(path)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(cleaned, "/") {
		return "", errors.Newf(errors.ErrInvalidInput, "container path %q must be absolute", path)
	}
	return cleaned, nil
}

// NonEmptyString validates that a string is not empty or only whitespace
func NonEmptyString(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New(errors.ErrInvalidInput, "value cannot be empty or only whitespace")
	}
	return nil
}
