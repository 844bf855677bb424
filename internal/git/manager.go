// Package git implements the version-control adapter over a local repository:
// worktree provisioning, branch management and cleanliness checks.
package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/jehrhardt/makedev/internal/errors"
	"github.com/jehrhardt/makedev/internal/logger"
)

// Manager is the capability surface the orchestration engine uses for
// version-control operations. Inputs are validated by the engine before they
// reach this adapter.
type Manager interface {
	// CreateWorktree provisions a worktree for envName bound to branch,
	// creating the branch from baseBranch when it does not exist yet.
	// Returns the worktree path.
	CreateWorktree(ctx context.Context, envName, branch, baseBranch string) (string, error)

	// RemoveWorktree removes the worktree at path. Uncommitted changes block
	// removal unless force is set. A missing path is treated as success so
	// destroy stays idempotent.
	RemoveWorktree(ctx context.Context, path string, force bool) error

	// BranchExists reports whether a local branch with the given name exists.
	BranchExists(ctx context.Context, branch string) (bool, error)

	// HasUncommittedChanges reports whether the worktree at path is dirty.
	HasUncommittedChanges(ctx context.Context, path string) (bool, error)
}

// WorktreeManager implements Manager against a single local repository using
// go-git for reference and status inspection and the git CLI for worktree
// commands, which go-git does not support.
type WorktreeManager struct {
	repoPath     string
	worktreeRoot string
}

// NewWorktreeManager creates a manager for the repository at repoPath placing
// worktrees under worktreeRoot.
func NewWorktreeManager(repoPath, worktreeRoot string) *WorktreeManager {
	return &WorktreeManager{
		repoPath:     repoPath,
		worktreeRoot: worktreeRoot,
	}
}

// CreateWorktree creates a worktree under the configured root named after the
// environment, checked out on branch (created from baseBranch when absent).
func (m *WorktreeManager) CreateWorktree(ctx context.Context, envName, branch, baseBranch string) (string, error) {
	repo, err := m.open()
	if err != nil {
		return "", err
	}

	path := filepath.Join(m.worktreeRoot, envName)
	if _, err := os.Stat(path); err == nil {
		return "", errors.Newf(errors.ErrAlreadyExists, "worktree path already exists: %s", path)
	}

	if err := os.MkdirAll(m.worktreeRoot, 0755); err != nil {
		return "", errors.Wrap(errors.ErrAdapterError, "failed to create worktree root", err)
	}

	branchRef := plumbing.NewBranchReferenceName(branch)
	if _, err := repo.Reference(branchRef, true); err != nil {
		if err := m.createBranch(repo, branch, baseBranch); err != nil {
			return "", err
		}
	}

	logger.WithFields(logger.Fields{
		"environment": envName,
		"branch":      branch,
		"base":        baseBranch,
		"path":        path,
	}).Debug("Creating git worktree")

	cmd := exec.CommandContext(ctx, "git", "-C", m.repoPath, "worktree", "add", path, branch)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", wrapGitError("worktree add", err, output)
	}

	return path, nil
}

// RemoveWorktree removes the worktree at path and prunes its administrative
// files from the repository.
func (m *WorktreeManager) RemoveWorktree(ctx context.Context, path string, force bool) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(errors.ErrAdapterError, "failed to resolve worktree path", err)
	}

	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		// Already gone. Still prune so the repository forgets the worktree.
		m.prune(ctx)
		return nil
	}

	if !force {
		dirty, err := m.HasUncommittedChanges(ctx, absPath)
		if err != nil {
			return err
		}
		if dirty {
			return errors.Newf(errors.ErrDirtyWorktree, "worktree %s has uncommitted changes", absPath)
		}
	}

	args := []string{"-C", m.repoPath, "worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, absPath)

	cmd := exec.CommandContext(ctx, "git", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		if !force {
			return wrapGitError("worktree remove", err, output)
		}
		// Forced removal falls back to deleting the directory outright.
		if rmErr := os.RemoveAll(absPath); rmErr != nil {
			return errors.Wrap(errors.ErrAdapterError,
				fmt.Sprintf("failed to force remove worktree %s", absPath), rmErr)
		}
		m.prune(ctx)
	}

	return nil
}

// BranchExists reports whether the repository has a local branch by this name
func (m *WorktreeManager) BranchExists(ctx context.Context, branch string) (bool, error) {
	repo, err := m.open()
	if err != nil {
		return false, err
	}

	_, err = repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err == plumbing.ErrReferenceNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(errors.ErrAdapterError, "failed to resolve branch reference", err)
	}
	return true, nil
}

// HasUncommittedChanges reports whether the worktree at path is dirty
func (m *WorktreeManager) HasUncommittedChanges(ctx context.Context, path string) (bool, error) {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return false, errors.Wrap(errors.ErrAdapterError, "failed to open worktree", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return false, errors.Wrap(errors.ErrAdapterError, "failed to get worktree", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return false, errors.Wrap(errors.ErrAdapterError, "failed to get worktree status", err)
	}

	return !status.IsClean(), nil
}

// open opens the configured repository
func (m *WorktreeManager) open() (*gogit.Repository, error) {
	repo, err := gogit.PlainOpen(m.repoPath)
	if err != nil {
		if err == gogit.ErrRepositoryNotExists {
			return nil, errors.Newf(errors.ErrAdapterUnavailable, "repository not found at %s", m.repoPath)
		}
		return nil, errors.Wrap(errors.ErrAdapterUnavailable, "failed to open repository", err)
	}
	return repo, nil
}

// createBranch creates branch pointing at the tip of baseBranch
func (m *WorktreeManager) createBranch(repo *gogit.Repository, branch, baseBranch string) error {
	baseRef, err := repo.Reference(plumbing.NewBranchReferenceName(baseBranch), true)
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return errors.Newf(errors.ErrNotFound, "base branch %q not found", baseBranch)
		}
		return errors.Wrap(errors.ErrAdapterError, "failed to resolve base branch", err)
	}

	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), baseRef.Hash())
	if err := repo.Storer.SetReference(ref); err != nil {
		return errors.Wrap(errors.ErrAdapterError, "failed to create branch", err)
	}
	return nil
}

// prune removes stale worktree administrative files
func (m *WorktreeManager) prune(ctx context.Context) {
	cmd := exec.CommandContext(ctx, "git", "-C", m.repoPath, "worktree", "prune")
	if output, err := cmd.CombinedOutput(); err != nil {
		logger.WithError(err).WithField("output", string(output)).Debug("git worktree prune failed")
	}
}

// wrapGitError classifies a git CLI failure from its output
func wrapGitError(operation string, err error, output []byte) error {
	msg := strings.TrimSpace(string(output))
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "already exists") || strings.Contains(lower, "already checked out"):
		return errors.Wrap(errors.ErrAlreadyExists, fmt.Sprintf("git %s: %s", operation, msg), err)
	case strings.Contains(lower, "not a working tree") || strings.Contains(lower, "no such file"):
		return errors.Wrap(errors.ErrNotFound, fmt.Sprintf("git %s: %s", operation, msg), err)
	case strings.Contains(lower, "contains modified or untracked files"):
		return errors.Wrap(errors.ErrDirtyWorktree, fmt.Sprintf("git %s: %s", operation, msg), err)
	case strings.Contains(lower, "not a git repository"):
		return errors.Wrap(errors.ErrAdapterUnavailable, fmt.Sprintf("git %s: %s", operation, msg), err)
	default:
		return errors.Wrap(errors.ErrAdapterError, fmt.Sprintf("git %s failed: %s", operation, msg), err)
	}
}
