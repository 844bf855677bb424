package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jehrhardt/makedev/internal/config"
	"github.com/jehrhardt/makedev/internal/container"
	"github.com/jehrhardt/makedev/internal/db"
	"github.com/jehrhardt/makedev/internal/engine"
	"github.com/jehrhardt/makedev/internal/errors"
	"github.com/jehrhardt/makedev/internal/testutil"
)

type fixture struct {
	engine  *engine.Engine
	repo    *db.EnvironmentRepository
	git     *testutil.FakeGitManager
	runtime *testutil.FakeRuntime
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database := testutil.SetupTestDB(t)
	repo := db.NewEnvironmentRepository(database)
	gitMgr := testutil.NewFakeGitManager("main")
	gitMgr.Root = t.TempDir()
	runtime := testutil.NewFakeRuntime()

	cfg := config.Default()
	cfg.Git.RepoPath = "/srv/repo"
	cfg.Storage.WorktreesPath = gitMgr.Root

	return &fixture{
		engine:  engine.New(repo, gitMgr, runtime, cfg),
		repo:    repo,
		git:     gitMgr,
		runtime: runtime,
	}
}

func (f *fixture) create(t *testing.T, name string) *db.Environment {
	t.Helper()
	env, err := f.engine.Create(context.Background(), engine.CreateOptions{Name: name})
	require.NoError(t, err)
	return env
}

func TestCreateProducesReadyEnvironment(t *testing.T) {
	f := newFixture(t)

	env := f.create(t, "feature-auth")

	assert.Equal(t, db.StatusReady, env.Status)
	assert.Equal(t, "feature-auth", env.Branch)
	assert.Equal(t, "main", env.BaseBranch)
	assert.NotEmpty(t, env.WorktreePath)
	assert.NotEmpty(t, env.ContainerID)
	assert.True(t, f.git.HasWorktree(env.WorktreePath))

	stored, err := f.repo.Get(context.Background(), "feature-auth")
	require.NoError(t, err)
	assert.Equal(t, db.StatusReady, stored.Status)
	assert.Equal(t, env.ContainerID, stored.ContainerID)
}

func TestCreateRejectsInvalidName(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Create(context.Background(), engine.CreateOptions{Name: "../escape"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInput))
	assert.Equal(t, 0, f.runtime.Calls("create"))
}

func TestCreateDuplicateName(t *testing.T) {
	f := newFixture(t)
	f.create(t, "dup")

	_, err := f.engine.Create(context.Background(), engine.CreateOptions{Name: "dup"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyExists))
}

func TestConcurrentCreateSameNameAdmitsExactlyOne(t *testing.T) {
	f := newFixture(t)

	const racers = 8
	results := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Create(context.Background(), engine.CreateOptions{Name: "contested"})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.True(t, errors.HasCode(err, errors.ErrAlreadyExists))
			losses++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, losses)

	env, err := f.repo.Get(context.Background(), "contested")
	require.NoError(t, err)
	assert.Equal(t, db.StatusReady, env.Status)
}

func TestCreateMissingBaseBranch(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Create(context.Background(), engine.CreateOptions{
		Name:       "orphan",
		BaseBranch: "ghost-branch",
	})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))

	// The placeholder record was rolled back
	_, err = f.repo.Get(context.Background(), "orphan")
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))
}

func TestCreateRollsBackOnContainerFailure(t *testing.T) {
	f := newFixture(t)
	f.runtime.CreateFn = func(ctx context.Context, cfg *container.CreateConfig) (string, error) {
		return "", &container.RuntimeError{Kind: container.KindUnavailable, Operation: "create",
			Message: "cannot connect to the engine"}
	}

	_, err := f.engine.Create(context.Background(), engine.CreateOptions{Name: "doomed"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAdapterUnavailable))

	// Worktree and record were both cleaned up
	assert.False(t, f.git.HasWorktree(f.git.Root+"/doomed"))
	_, err = f.repo.Get(context.Background(), "doomed")
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))
}

func TestCreateRollbackFailureParksRecordInError(t *testing.T) {
	f := newFixture(t)
	f.runtime.CreateFn = func(ctx context.Context, cfg *container.CreateConfig) (string, error) {
		return "", &container.RuntimeError{Kind: container.KindUnknown, Operation: "create",
			Message: "engine exploded"}
	}
	f.git.RemoveWorktreeFn = func(ctx context.Context, path string, force bool) error {
		return errors.New(errors.ErrAdapterError, "worktree removal failed")
	}

	_, err := f.engine.Create(context.Background(), engine.CreateOptions{Name: "stuck"})
	require.Error(t, err)

	env, getErr := f.repo.Get(context.Background(), "stuck")
	require.NoError(t, getErr)
	assert.Equal(t, db.StatusError, env.Status)
	assert.NotEmpty(t, env.ErrorKind)
	assert.NotEmpty(t, env.ErrorMessage)

	// The parked record keeps the worktree path so destroy can still find
	// the leftover once removal works again.
	assert.Equal(t, f.git.Root+"/stuck", env.WorktreePath)

	f.git.RemoveWorktreeFn = nil
	require.NoError(t, f.engine.Destroy(context.Background(), "stuck"))
	assert.False(t, f.git.HasWorktree(f.git.Root+"/stuck"))
	_, getErr = f.repo.Get(context.Background(), "stuck")
	assert.True(t, errors.HasCode(getErr, errors.ErrNotFound))
}

func TestStartStopLifecycle(t *testing.T) {
	f := newFixture(t)
	f.create(t, "lifecycle")

	env, err := f.engine.Start(context.Background(), "lifecycle")
	require.NoError(t, err)
	assert.Equal(t, db.StatusRunning, env.Status)

	env, err = f.engine.Stop(context.Background(), "lifecycle")
	require.NoError(t, err)
	assert.Equal(t, db.StatusStopped, env.Status)

	// Stopped environments restart
	env, err = f.engine.Start(context.Background(), "lifecycle")
	require.NoError(t, err)
	assert.Equal(t, db.StatusRunning, env.Status)
}

func TestStartFromInvalidStatus(t *testing.T) {
	f := newFixture(t)
	f.create(t, "once")

	_, err := f.engine.Start(context.Background(), "once")
	require.NoError(t, err)

	_, err = f.engine.Start(context.Background(), "once")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidState))
}

func TestStopRequiresRunning(t *testing.T) {
	f := newFixture(t)
	f.create(t, "idle")

	_, err := f.engine.Stop(context.Background(), "idle")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidState))
}

func TestStartFailureRevertsStatus(t *testing.T) {
	f := newFixture(t)
	env := f.create(t, "flaky")

	f.runtime.StartFn = func(ctx context.Context, containerID string) error {
		return &container.RuntimeError{Kind: container.KindUnknown, Operation: "start",
			Message: "engine refused"}
	}

	_, err := f.engine.Start(context.Background(), "flaky")
	require.Error(t, err)

	stored, getErr := f.repo.Get(context.Background(), env.Name)
	require.NoError(t, getErr)
	assert.Equal(t, db.StatusReady, stored.Status)
}

func TestStartTimeoutParksRecordInError(t *testing.T) {
	f := newFixture(t)
	f.create(t, "hung")

	f.runtime.StartFn = func(ctx context.Context, containerID string) error {
		return &container.RuntimeError{Kind: container.KindTimeout, Operation: "start",
			Message: "container engine start timed out"}
	}

	_, err := f.engine.Start(context.Background(), "hung")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrTimeout))

	stored, getErr := f.repo.Get(context.Background(), "hung")
	require.NoError(t, getErr)
	assert.Equal(t, db.StatusError, stored.Status)
	assert.Equal(t, string(container.KindTimeout), stored.ErrorKind)
}

func TestDestroyRemovesEverything(t *testing.T) {
	f := newFixture(t)
	env := f.create(t, "teardown")

	require.NoError(t, f.engine.Destroy(context.Background(), "teardown"))

	_, err := f.repo.Get(context.Background(), "teardown")
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))
	assert.False(t, f.git.HasWorktree(env.WorktreePath))

	state, err := f.runtime.Inspect(context.Background(), env.ContainerID)
	require.NoError(t, err)
	assert.Equal(t, container.StateMissing, state)
}

func TestDestroyUnknownName(t *testing.T) {
	f := newFixture(t)

	err := f.engine.Destroy(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))
}

func TestDestroyToleratesMissingResources(t *testing.T) {
	f := newFixture(t)
	env := f.create(t, "half-gone")

	// Someone removed the container and worktree behind our back
	f.runtime.SetState(env.ContainerID, container.StateMissing)
	require.NoError(t, f.git.RemoveWorktree(context.Background(), env.WorktreePath, true))

	require.NoError(t, f.engine.Destroy(context.Background(), "half-gone"))

	_, err := f.repo.Get(context.Background(), "half-gone")
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))
}

func TestStatusReconcilesExternallyRemovedContainer(t *testing.T) {
	f := newFixture(t)
	env := f.create(t, "vanished")
	_, err := f.engine.Start(context.Background(), "vanished")
	require.NoError(t, err)

	f.runtime.SetState(env.ContainerID, container.StateMissing)

	got, err := f.engine.Status(context.Background(), "vanished")
	require.NoError(t, err)
	assert.Equal(t, db.StatusError, got.Status)
	assert.Equal(t, string(container.KindNotFound), got.ErrorKind)
}

func TestStatusReconcilesReadyContainerRemovedExternally(t *testing.T) {
	f := newFixture(t)
	env := f.create(t, "prebaked")

	f.runtime.SetState(env.ContainerID, container.StateMissing)

	got, err := f.engine.Status(context.Background(), "prebaked")
	require.NoError(t, err)
	assert.Equal(t, db.StatusError, got.Status)
	assert.Equal(t, string(container.KindNotFound), got.ErrorKind)
}

func TestStatusReconcilesExternallyStoppedContainer(t *testing.T) {
	f := newFixture(t)
	env := f.create(t, "ghosted")
	_, err := f.engine.Start(context.Background(), "ghosted")
	require.NoError(t, err)

	f.runtime.SetState(env.ContainerID, container.StateExited)

	got, err := f.engine.Status(context.Background(), "ghosted")
	require.NoError(t, err)
	assert.Equal(t, db.StatusStopped, got.Status)
}

func TestStatusNeverReportsRunningUnconfirmed(t *testing.T) {
	f := newFixture(t)
	f.create(t, "unsure")
	_, err := f.engine.Start(context.Background(), "unsure")
	require.NoError(t, err)

	f.runtime.InspectFn = func(ctx context.Context, containerID string) (container.State, error) {
		return container.StateUnknown, &container.RuntimeError{Kind: container.KindTimeout,
			Operation: "inspect", Message: "container engine inspect timed out"}
	}

	got, err := f.engine.Status(context.Background(), "unsure")
	require.NoError(t, err)
	assert.Equal(t, db.StatusError, got.Status)
}

func TestListReconcilesEachRecord(t *testing.T) {
	f := newFixture(t)
	envA := f.create(t, "env-a")
	f.create(t, "env-b")
	_, err := f.engine.Start(context.Background(), "env-a")
	require.NoError(t, err)

	f.runtime.SetState(envA.ContainerID, container.StateExited)

	envs, err := f.engine.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, envs, 2)

	byName := map[string]db.EnvironmentStatus{}
	for _, env := range envs {
		byName[env.Name] = env.Status
	}
	assert.Equal(t, db.StatusStopped, byName["env-a"])
	assert.Equal(t, db.StatusReady, byName["env-b"])
}

func TestExecRequiresRunningEnvironment(t *testing.T) {
	f := newFixture(t)
	f.create(t, "cold")

	_, err := f.engine.Exec(context.Background(), "cold", []string{"ls"}, time.Second)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidState))
}

func TestExecRunsInRunningEnvironment(t *testing.T) {
	f := newFixture(t)
	f.create(t, "hot")
	_, err := f.engine.Start(context.Background(), "hot")
	require.NoError(t, err)

	f.runtime.ExecFn = func(ctx context.Context, containerID string, command []string) (*container.ExecResult, error) {
		return &container.ExecResult{ExitCode: 0, Stdout: "ok\n"}, nil
	}

	result, err := f.engine.Exec(context.Background(), "hot", []string{"echo", "ok"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", result.Stdout)
}

func TestExecRejectsEmptyCommand(t *testing.T) {
	f := newFixture(t)
	f.create(t, "quiet")
	_, err := f.engine.Start(context.Background(), "quiet")
	require.NoError(t, err)

	_, err = f.engine.Exec(context.Background(), "quiet", nil, 0)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInput))

	_, err = f.engine.Exec(context.Background(), "quiet", []string{"   "}, 0)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInput))
}

func TestFileOperationsValidatePaths(t *testing.T) {
	f := newFixture(t)
	f.create(t, "files")
	_, err := f.engine.Start(context.Background(), "files")
	require.NoError(t, err)

	_, err = f.engine.ReadFile(context.Background(), "files", "../etc/passwd")
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInput))

	err = f.engine.WriteFile(context.Background(), "files", "relative/path", []byte("x"))
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInput))

	require.NoError(t, f.engine.WriteFile(context.Background(), "files", "/workspace/note.txt", []byte("hello")))
	data, err := f.engine.ReadFile(context.Background(), "files", "/workspace/note.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestStatusEventsArePublished(t *testing.T) {
	f := newFixture(t)

	events, cancel := f.engine.Events().Subscribe()
	defer cancel()

	f.create(t, "observed")
	_, err := f.engine.Start(context.Background(), "observed")
	require.NoError(t, err)

	var seen []engine.Event
	for len(events) > 0 {
		seen = append(seen, <-events)
	}

	require.GreaterOrEqual(t, len(seen), 4)
	assert.Equal(t, db.StatusCreating, seen[0].NewStatus)
	assert.Equal(t, db.StatusReady, seen[1].NewStatus)
	assert.Equal(t, db.StatusStarting, seen[2].NewStatus)
	assert.Equal(t, db.StatusRunning, seen[3].NewStatus)
	for _, event := range seen {
		assert.Equal(t, "observed", event.Name)
	}
}
