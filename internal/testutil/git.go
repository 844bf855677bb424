package testutil

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/jehrhardt/makedev/internal/errors"
)

// FakeGitManager is a stateful in-memory git.Manager. Fn hooks override
// individual operations; otherwise worktrees and branches live in maps.
type FakeGitManager struct {
	mu        sync.Mutex
	worktrees map[string]bool // path -> dirty
	branches  map[string]bool

	// CreateWorktreeFn is called by CreateWorktree when set
	CreateWorktreeFn func(ctx context.Context, envName, branch, baseBranch string) (string, error)
	// RemoveWorktreeFn is called by RemoveWorktree when set
	RemoveWorktreeFn func(ctx context.Context, path string, force bool) error

	// Root is the directory fake worktree paths are placed under
	Root string
}

// NewFakeGitManager creates a fake git manager whose repository has only the
// given base branches.
func NewFakeGitManager(baseBranches ...string) *FakeGitManager {
	branches := make(map[string]bool)
	for _, b := range baseBranches {
		branches[b] = true
	}
	return &FakeGitManager{
		worktrees: make(map[string]bool),
		branches:  branches,
		Root:      "/tmp/makedev-test-worktrees",
	}
}

// MarkDirty flags a worktree as having uncommitted changes
func (f *FakeGitManager) MarkDirty(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.worktrees[path] = true
}

// HasWorktree reports whether a worktree exists at path
func (f *FakeGitManager) HasWorktree(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.worktrees[path]
	return ok
}

func (f *FakeGitManager) CreateWorktree(ctx context.Context, envName, branch, baseBranch string) (string, error) {
	if f.CreateWorktreeFn != nil {
		return f.CreateWorktreeFn(ctx, envName, branch, baseBranch)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.branches[baseBranch] {
		return "", errors.Newf(errors.ErrNotFound, "base branch %q does not exist", baseBranch)
	}
	path := filepath.Join(f.Root, envName)
	if _, ok := f.worktrees[path]; ok {
		return "", errors.Newf(errors.ErrAlreadyExists, "worktree %q already exists", path)
	}
	f.worktrees[path] = false
	f.branches[branch] = true
	return path, nil
}

func (f *FakeGitManager) RemoveWorktree(ctx context.Context, path string, force bool) error {
	if f.RemoveWorktreeFn != nil {
		return f.RemoveWorktreeFn(ctx, path, force)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	dirty, ok := f.worktrees[path]
	if !ok {
		return nil
	}
	if dirty && !force {
		return errors.Newf(errors.ErrDirtyWorktree, "worktree %q has uncommitted changes", path)
	}
	delete(f.worktrees, path)
	return nil
}

func (f *FakeGitManager) BranchExists(ctx context.Context, branch string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.branches[branch], nil
}

func (f *FakeGitManager) HasUncommittedChanges(ctx context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dirty, ok := f.worktrees[path]
	if !ok {
		return false, errors.Newf(errors.ErrNotFound, "no worktree at %q", path)
	}
	return dirty, nil
}
