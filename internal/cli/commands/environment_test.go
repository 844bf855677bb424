package commands

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jehrhardt/makedev/internal/config"
	"github.com/jehrhardt/makedev/internal/container"
	"github.com/jehrhardt/makedev/internal/db"
	"github.com/jehrhardt/makedev/internal/engine"
	"github.com/jehrhardt/makedev/internal/errors"
	"github.com/jehrhardt/makedev/internal/server"
	"github.com/jehrhardt/makedev/internal/testutil"
)

type testFactory struct {
	cfg     *config.Config
	engine  *engine.Engine
	runtime *testutil.FakeRuntime
}

func (f *testFactory) Config() *config.Config { return f.cfg }

func (f *testFactory) Engine() (*engine.Engine, error) { return f.engine, nil }

func (f *testFactory) Server() (*server.Server, error) {
	return nil, errors.New(errors.ErrInternal, "not wired in tests")
}

func newTestFactory(t *testing.T) *testFactory {
	t.Helper()

	database := testutil.SetupTestDB(t)
	gitMgr := testutil.NewFakeGitManager("main")
	gitMgr.Root = t.TempDir()
	runtime := testutil.NewFakeRuntime()

	cfg := config.Default()
	cfg.Git.RepoPath = "/srv/repo"
	cfg.Storage.WorktreesPath = gitMgr.Root

	return &testFactory{
		cfg:     cfg,
		engine:  engine.New(db.NewEnvironmentRepository(database), gitMgr, runtime, cfg),
		runtime: runtime,
	}
}

func run(t *testing.T, cmd *cobra.Command, args ...string) error {
	t.Helper()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestCreateCommand(t *testing.T) {
	f := newTestFactory(t)

	require.NoError(t, run(t, createCommand(f), "cli-env"))

	env, err := f.engine.Status(context.Background(), "cli-env")
	require.NoError(t, err)
	assert.Equal(t, db.StatusReady, env.Status)
	assert.Equal(t, "cli-env", env.Branch)
}

func TestCreateCommandBranchFlags(t *testing.T) {
	f := newTestFactory(t)

	require.NoError(t, run(t, createCommand(f), "flagged", "--branch", "feature/x", "--from", "main"))

	env, err := f.engine.Status(context.Background(), "flagged")
	require.NoError(t, err)
	assert.Equal(t, "feature/x", env.Branch)
	assert.Equal(t, "main", env.BaseBranch)
}

func TestCreateCommandDuplicateFails(t *testing.T) {
	f := newTestFactory(t)

	require.NoError(t, run(t, createCommand(f), "dup"))
	err := run(t, createCommand(f), "dup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Pick a different name")
}

func TestLifecycleCommands(t *testing.T) {
	f := newTestFactory(t)

	require.NoError(t, run(t, createCommand(f), "cycle"))
	require.NoError(t, run(t, startCommand(f), "cycle"))

	env, err := f.engine.Status(context.Background(), "cycle")
	require.NoError(t, err)
	assert.Equal(t, db.StatusRunning, env.Status)

	require.NoError(t, run(t, stopCommand(f), "cycle"))
	require.NoError(t, run(t, destroyCommand(f), "cycle"))

	_, err = f.engine.Status(context.Background(), "cycle")
	assert.Error(t, err)
}

func TestListCommandRejectsUnknownStatus(t *testing.T) {
	f := newTestFactory(t)

	err := run(t, listCommand(f), "--status", "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown status")
}

func TestDestroyCommandUnknownName(t *testing.T) {
	f := newTestFactory(t)

	err := run(t, destroyCommand(f), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "makedev list")
}

func TestExecCommandPropagatesExitCode(t *testing.T) {
	f := newTestFactory(t)

	require.NoError(t, run(t, createCommand(f), "runner"))
	require.NoError(t, run(t, startCommand(f), "runner"))

	f.runtime.ExecFn = func(ctx context.Context, containerID string, command []string) (*container.ExecResult, error) {
		return &container.ExecResult{ExitCode: 3}, nil
	}

	err := run(t, execCommand(f), "runner", "false")
	var exitErr *ExitCodeError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
}

func TestHandleErrorAddsTips(t *testing.T) {
	err := HandleError(errors.New(errors.ErrNotFound, "environment \"x\" not found"))
	assert.Contains(t, err.Error(), "makedev list")

	err = HandleError(errors.New(errors.ErrDirtyWorktree, "worktree has uncommitted changes"))
	assert.Contains(t, err.Error(), "stash")

	plain := errors.New(errors.ErrInternal, "boom")
	assert.Equal(t, "boom", HandleError(plain).Error())

	assert.NoError(t, HandleError(nil))
}
