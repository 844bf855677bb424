package git

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jehrhardt/makedev/internal/errors"
)

func TestWrapGitErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   errors.ErrorCode
	}{
		{
			name:   "worktree path taken",
			output: "fatal: '/srv/wt/env' already exists",
			want:   errors.ErrAlreadyExists,
		},
		{
			name:   "branch checked out elsewhere",
			output: "fatal: 'feature' is already checked out at '/srv/wt/other'",
			want:   errors.ErrAlreadyExists,
		},
		{
			name:   "dirty worktree blocks removal",
			output: "fatal: '/srv/wt/env' contains modified or untracked files, use --force to delete it",
			want:   errors.ErrDirtyWorktree,
		},
		{
			name:   "missing worktree",
			output: "fatal: '/srv/wt/gone' is not a working tree",
			want:   errors.ErrNotFound,
		},
		{
			name:   "not a repository",
			output: "fatal: not a git repository (or any of the parent directories): .git",
			want:   errors.ErrAdapterUnavailable,
		},
		{
			name:   "unclassified failure",
			output: "error: something novel happened",
			want:   errors.ErrAdapterError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapGitError("worktree add", fmt.Errorf("exit status 128"), []byte(tt.output))
			assert.Equal(t, tt.want, errors.GetCode(err))
			assert.Contains(t, err.Error(), "worktree add")
		})
	}
}

func TestOpenMissingRepository(t *testing.T) {
	m := NewWorktreeManager(t.TempDir(), t.TempDir())

	_, err := m.CreateWorktree(context.Background(), "env", "env", "main")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAdapterUnavailable))

	_, err = m.BranchExists(context.Background(), "main")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAdapterUnavailable))
}

func TestRemoveWorktreeMissingPathIsSuccess(t *testing.T) {
	m := NewWorktreeManager(t.TempDir(), t.TempDir())

	err := m.RemoveWorktree(context.Background(), "/nonexistent/worktree/path", false)
	assert.NoError(t, err)
}
