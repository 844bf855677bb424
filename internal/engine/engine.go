// Package engine implements the orchestration engine: the only component that
// owns environment state transitions. It composes the registry, the
// version-control adapter and the container runtime adapter into atomic
// lifecycle operations.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jehrhardt/makedev/internal/config"
	"github.com/jehrhardt/makedev/internal/constants"
	"github.com/jehrhardt/makedev/internal/container"
	"github.com/jehrhardt/makedev/internal/db"
	"github.com/jehrhardt/makedev/internal/devcontainer"
	"github.com/jehrhardt/makedev/internal/errors"
	"github.com/jehrhardt/makedev/internal/git"
	"github.com/jehrhardt/makedev/internal/logger"
	"github.com/jehrhardt/makedev/internal/validation"
)

// Engine orchestrates environment lifecycles
type Engine struct {
	repo    *db.EnvironmentRepository
	git     git.Manager
	runtime container.Runtime
	cfg     *config.Config
	events  *Broadcaster
	locks   *nameLocks
}

// New creates an orchestration engine
func New(repo *db.EnvironmentRepository, gitMgr git.Manager, runtime container.Runtime, cfg *config.Config) *Engine {
	return &Engine{
		repo:    repo,
		git:     gitMgr,
		runtime: runtime,
		cfg:     cfg,
		events:  NewBroadcaster(),
		locks:   newNameLocks(),
	}
}

// Events returns the status-change broadcaster
func (e *Engine) Events() *Broadcaster {
	return e.events
}

// CreateOptions configures environment creation
type CreateOptions struct {
	Name       string
	Branch     string // defaults to Name
	BaseBranch string // defaults to the configured default branch
}

// Create provisions a new environment: a registry record, a worktree on its
// own branch, and a container created from the worktree's manifest. The
// returned environment is ready to start. A failure at any step rolls the
// earlier steps back; if rollback itself fails the record is kept in error
// status so destroy can finish the cleanup later.
func (e *Engine) Create(ctx context.Context, opts CreateOptions) (*db.Environment, error) {
	if err := validation.EnvironmentName(opts.Name); err != nil {
		return nil, err
	}
	branch := opts.Branch
	if branch == "" {
		branch = opts.Name
	}
	if err := validation.BranchName(branch); err != nil {
		return nil, err
	}
	baseBranch := opts.BaseBranch
	if baseBranch == "" {
		baseBranch = e.cfg.Git.DefaultBranch
	}
	if err := validation.BranchName(baseBranch); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(opts.Name)
	defer unlock()

	env := &db.Environment{
		ID:            uuid.New().String(),
		Name:          opts.Name,
		Branch:        branch,
		BaseBranch:    baseBranch,
		ContainerName: constants.ContainerNamePrefix + opts.Name,
		Status:        db.StatusCreating,
	}

	// The UNIQUE index on name makes this insert the atomic claim on the
	// name; a concurrent create for the same name loses here.
	if err := e.repo.Create(ctx, env); err != nil {
		return nil, e.wrap(opts.Name, "create", err)
	}
	e.events.Publish(Event{Name: env.Name, OldStatus: "", NewStatus: db.StatusCreating})

	log := logger.WithFields(logger.Fields{
		"environment": env.Name,
		"branch":      branch,
		"base_branch": baseBranch,
	})
	log.Info("Creating environment")

	worktreePath, err := e.git.CreateWorktree(ctx, env.Name, branch, baseBranch)
	if err != nil {
		e.rollbackCreate(ctx, env, err)
		return nil, e.wrap(env.Name, "create", err)
	}
	env.WorktreePath = worktreePath

	containerID, err := e.provision(ctx, env)
	if err != nil {
		e.rollbackCreate(ctx, env, err)
		return nil, e.wrap(env.Name, "create", err)
	}
	env.ContainerID = containerID

	env.Status = db.StatusReady
	if err := e.repo.Update(ctx, env); err != nil {
		e.rollbackCreate(ctx, env, err)
		return nil, e.wrap(env.Name, "create", err)
	}
	e.events.Publish(Event{Name: env.Name, OldStatus: db.StatusCreating, NewStatus: db.StatusReady})

	log.Info("Environment created")
	return env, nil
}

// provision builds the environment's image if needed and creates its container
func (e *Engine) provision(ctx context.Context, env *db.Environment) (string, error) {
	spec, err := devcontainer.Load(env.WorktreePath, e.cfg.Container.DefaultImage)
	if err != nil {
		return "", err
	}

	image := spec.Image
	if spec.NeedsBuild() {
		contextDir := env.WorktreePath
		if spec.Build.Context != "" {
			contextDir = filepath.Join(env.WorktreePath, spec.Build.Context)
		}
		image, err = e.runtime.BuildImage(ctx, &container.BuildConfig{
			ContextDir: contextDir,
			Dockerfile: spec.Build.Dockerfile,
			Tag:        constants.ImageTagPrefix + env.Name,
		})
		if err != nil {
			return "", err
		}
	}

	workDir := spec.WorkDir
	if workDir == "" {
		workDir = constants.WorkspaceDir
	}

	mounts := []container.Mount{{Source: env.WorktreePath, Target: constants.WorkspaceDir}}
	for _, m := range spec.Mounts {
		mount, err := parseMount(m)
		if err != nil {
			return "", err
		}
		mounts = append(mounts, mount)
	}

	return e.runtime.Create(ctx, &container.CreateConfig{
		Name:       env.ContainerName,
		Image:      image,
		WorkingDir: workDir,
		Mounts:     mounts,
		Env:        spec.EnvList(),
		Labels:     map[string]string{constants.EnvironmentLabel: env.Name},
	})
}

// rollbackCreate undoes a partial create in reverse order. When cleanup
// itself fails the record is parked in error status instead of deleted, so
// the leftover resources stay discoverable and destroyable.
func (e *Engine) rollbackCreate(ctx context.Context, env *db.Environment, cause error) {
	log := logger.WithField("environment", env.Name).WithError(cause)
	log.Warn("Create failed, rolling back")

	var failed bool

	if env.ContainerID != "" {
		if err := e.runtime.Remove(ctx, env.ContainerID); err != nil && !isRuntimeNotFound(err) {
			log.WithError(err).Error("Rollback failed to remove container")
			failed = true
		}
	}
	if env.WorktreePath != "" {
		if err := e.git.RemoveWorktree(ctx, env.WorktreePath, true); err != nil {
			log.WithError(err).Error("Rollback failed to remove worktree")
			failed = true
		}
	}

	if failed {
		// The record keeps the provisioned worktree and container identity,
		// otherwise a later destroy cannot find the leftovers.
		env.Status = db.StatusCreating
		if err := e.repo.Update(ctx, env); err != nil {
			log.WithError(err).Error("Rollback failed to persist leftover resource identity")
		}
		kind, msg := errorDetail(cause)
		if err := e.repo.SetError(ctx, env.Name, kind, msg); err != nil {
			log.WithError(err).Error("Failed to record error status")
			return
		}
		e.events.Publish(Event{Name: env.Name, OldStatus: db.StatusCreating, NewStatus: db.StatusError})
		return
	}

	if err := e.repo.Delete(ctx, env.Name); err != nil {
		log.WithError(err).Error("Rollback failed to delete record")
	}
}

// Start transitions an environment from ready or stopped to running
func (e *Engine) Start(ctx context.Context, name string) (*db.Environment, error) {
	unlock := e.locks.Lock(name)
	defer unlock()

	env, err := e.repo.Get(ctx, name)
	if err != nil {
		return nil, e.wrap(name, "start", err)
	}
	if env.Status != db.StatusReady && env.Status != db.StatusStopped {
		return nil, errors.Newf(errors.ErrInvalidState,
			"environment %q cannot start from status %s", name, env.Status)
	}
	prior := env.Status

	if err := e.transition(ctx, name, prior, db.StatusStarting); err != nil {
		return nil, e.wrap(name, "start", err)
	}

	if err := e.runtime.Start(ctx, env.ContainerID); err != nil {
		e.failOrRevert(ctx, name, db.StatusStarting, prior, err)
		return nil, e.wrap(name, "start", err)
	}

	// Never report running on the engine's word alone
	state, err := e.runtime.Inspect(ctx, env.ContainerID)
	if err != nil || state != container.StateRunning {
		if err == nil {
			err = errors.Newf(errors.ErrAdapterError,
				"container entered state %s instead of running", state)
		}
		e.failOrRevert(ctx, name, db.StatusStarting, prior, err)
		return nil, e.wrap(name, "start", err)
	}

	if err := e.transition(ctx, name, db.StatusStarting, db.StatusRunning); err != nil {
		return nil, e.wrap(name, "start", err)
	}

	logger.WithField("environment", name).Info("Environment started")
	return e.repo.Get(ctx, name)
}

// Stop transitions a running environment to stopped, keeping its worktree and
// record intact.
func (e *Engine) Stop(ctx context.Context, name string) (*db.Environment, error) {
	unlock := e.locks.Lock(name)
	defer unlock()

	env, err := e.repo.Get(ctx, name)
	if err != nil {
		return nil, e.wrap(name, "stop", err)
	}
	if env.Status != db.StatusRunning {
		return nil, errors.Newf(errors.ErrInvalidState,
			"environment %q cannot stop from status %s", name, env.Status)
	}

	if err := e.runtime.Stop(ctx, env.ContainerID); err != nil {
		e.failOrRevert(ctx, name, db.StatusRunning, db.StatusRunning, err)
		return nil, e.wrap(name, "stop", err)
	}

	if err := e.transition(ctx, name, db.StatusRunning, db.StatusStopped); err != nil {
		return nil, e.wrap(name, "stop", err)
	}

	logger.WithField("environment", name).Info("Environment stopped")
	return e.repo.Get(ctx, name)
}

// Destroy tears an environment down from any status: container, worktree and
// record. Resources that are already gone are treated as removed; the record
// is deleted only after both adapters report clean.
func (e *Engine) Destroy(ctx context.Context, name string) error {
	unlock := e.locks.Lock(name)
	defer unlock()

	env, err := e.repo.Get(ctx, name)
	if err != nil {
		return e.wrap(name, "destroy", err)
	}
	prior := env.Status

	env.Status = db.StatusDestroying
	if err := e.repo.Update(ctx, env); err != nil {
		return e.wrap(name, "destroy", err)
	}
	e.events.Publish(Event{Name: name, OldStatus: prior, NewStatus: db.StatusDestroying})

	log := logger.WithField("environment", name)
	log.Info("Destroying environment")

	if env.ContainerID != "" {
		if err := e.runtime.Remove(ctx, env.ContainerID); err != nil && !isRuntimeNotFound(err) {
			kind, msg := errorDetail(err)
			if serr := e.repo.SetError(ctx, name, kind, msg); serr != nil {
				log.WithError(serr).Error("Failed to record error status")
			}
			e.events.Publish(Event{Name: name, OldStatus: db.StatusDestroying, NewStatus: db.StatusError})
			return e.wrap(name, "destroy", err)
		}
	}

	if env.WorktreePath != "" {
		if err := e.git.RemoveWorktree(ctx, env.WorktreePath, true); err != nil {
			kind, msg := errorDetail(err)
			if serr := e.repo.SetError(ctx, name, kind, msg); serr != nil {
				log.WithError(serr).Error("Failed to record error status")
			}
			e.events.Publish(Event{Name: name, OldStatus: db.StatusDestroying, NewStatus: db.StatusError})
			return e.wrap(name, "destroy", err)
		}
	}

	if err := e.repo.Delete(ctx, name); err != nil {
		return e.wrap(name, "destroy", err)
	}

	log.Info("Environment destroyed")
	return nil
}

// Status returns one environment, reconciled against the live container state
func (e *Engine) Status(ctx context.Context, name string) (*db.Environment, error) {
	env, err := e.repo.Get(ctx, name)
	if err != nil {
		return nil, e.wrap(name, "status", err)
	}
	return e.reconcile(ctx, env), nil
}

// List returns environments matching the optional status filter, each
// reconciled against the live container state.
func (e *Engine) List(ctx context.Context, status db.EnvironmentStatus) ([]db.Environment, error) {
	envs, err := e.repo.List(ctx, status)
	if err != nil {
		return nil, e.wrap("", "list", err)
	}
	for i := range envs {
		envs[i] = *e.reconcile(ctx, &envs[i])
	}
	return envs, nil
}

// Exec runs a command inside a running environment's container
func (e *Engine) Exec(ctx context.Context, name string, command []string, timeout time.Duration) (*container.ExecResult, error) {
	if err := validateCommand(command); err != nil {
		return nil, err
	}
	env, err := e.requireRunning(ctx, name)
	if err != nil {
		return nil, err
	}
	result, err := e.runtime.Exec(ctx, env.ContainerID, command, timeout)
	if err != nil {
		return nil, e.wrap(name, "exec", err)
	}
	return result, nil
}

// ExecStream runs a command inside a running environment's container,
// delivering output incrementally through onChunk.
func (e *Engine) ExecStream(ctx context.Context, name string, command []string, timeout time.Duration, onChunk container.ChunkFunc) (*container.ExecResult, error) {
	if err := validateCommand(command); err != nil {
		return nil, err
	}
	env, err := e.requireRunning(ctx, name)
	if err != nil {
		return nil, err
	}
	result, err := e.runtime.ExecStream(ctx, env.ContainerID, command, timeout, onChunk)
	if err != nil {
		return nil, e.wrap(name, "exec", err)
	}
	return result, nil
}

// ReadFile reads a file from inside a running environment's container
func (e *Engine) ReadFile(ctx context.Context, name, path string) ([]byte, error) {
	cleanPath, err := validation.ContainerPath(path)
	if err != nil {
		return nil, err
	}
	env, err := e.requireRunning(ctx, name)
	if err != nil {
		return nil, err
	}
	data, err := e.runtime.ReadFile(ctx, env.ContainerID, cleanPath)
	if err != nil {
		return nil, e.wrap(name, "read_file", err)
	}
	return data, nil
}

// WriteFile writes a file inside a running environment's container
func (e *Engine) WriteFile(ctx context.Context, name, path string, content []byte) error {
	cleanPath, err := validation.ContainerPath(path)
	if err != nil {
		return err
	}
	env, err := e.requireRunning(ctx, name)
	if err != nil {
		return err
	}
	if err := e.runtime.WriteFile(ctx, env.ContainerID, cleanPath, content); err != nil {
		return e.wrap(name, "write_file", err)
	}
	return nil
}

// validateCommand rejects an empty or blank exec command before it reaches
// the runtime adapter.
func validateCommand(command []string) error {
	if len(command) == 0 {
		return errors.New(errors.ErrInvalidInput, "command cannot be empty")
	}
	if err := validation.NonEmptyString(command[0]); err != nil {
		return errors.Wrap(errors.ErrInvalidInput, "invalid command", err)
	}
	return nil
}

// requireRunning loads an environment and checks it is running, reconciling
// first so a container that died externally is caught before the exec.
func (e *Engine) requireRunning(ctx context.Context, name string) (*db.Environment, error) {
	env, err := e.repo.Get(ctx, name)
	if err != nil {
		return nil, e.wrap(name, "exec", err)
	}
	env = e.reconcile(ctx, env)
	if env.Status != db.StatusRunning {
		return nil, errors.Newf(errors.ErrInvalidState,
			"environment %q is %s, not running", name, env.Status)
	}
	return env, nil
}

// reconcile corrects a record whose container drifted from the stored status.
// Inspect failures leave the record untouched, except for records claiming
// running, which become error: running is never reported unconfirmed.
func (e *Engine) reconcile(ctx context.Context, env *db.Environment) *db.Environment {
	if !env.Status.HasContainer() || env.ContainerID == "" {
		return env
	}

	state, err := e.runtime.Inspect(ctx, env.ContainerID)
	if err != nil {
		if env.Status == db.StatusRunning {
			kind, msg := errorDetail(err)
			return e.setError(ctx, env, kind, msg)
		}
		return env
	}

	switch {
	case state == container.StateMissing:
		return e.setError(ctx, env, string(container.KindNotFound), "container was removed outside the orchestrator")
	case env.Status == db.StatusRunning && state != container.StateRunning:
		if err := e.transition(ctx, env.Name, db.StatusRunning, db.StatusStopped); err == nil {
			env.Status = db.StatusStopped
		}
	case env.Status == db.StatusStopped && state == container.StateRunning:
		if err := e.transition(ctx, env.Name, db.StatusStopped, db.StatusRunning); err == nil {
			env.Status = db.StatusRunning
		}
	}
	return env
}

// setError parks a record in error status and returns the updated view
func (e *Engine) setError(ctx context.Context, env *db.Environment, kind, msg string) *db.Environment {
	old := env.Status
	if err := e.repo.SetError(ctx, env.Name, kind, msg); err != nil {
		logger.WithField("environment", env.Name).WithError(err).Error("Failed to record error status")
		return env
	}
	env.Status = db.StatusError
	env.ErrorKind = kind
	env.ErrorMessage = msg
	e.events.Publish(Event{Name: env.Name, OldStatus: old, NewStatus: db.StatusError})
	return env
}

// transition applies a guarded status change and publishes it
func (e *Engine) transition(ctx context.Context, name string, from, to db.EnvironmentStatus) error {
	if err := e.repo.UpdateStatus(ctx, name, from, to); err != nil {
		return err
	}
	e.events.Publish(Event{Name: name, OldStatus: from, NewStatus: to})
	return nil
}

// failOrRevert handles a failed lifecycle step: a timeout leaves the true
// state unknown so the record goes to error; any other failure reverts to the
// prior status.
func (e *Engine) failOrRevert(ctx context.Context, name string, from, prior db.EnvironmentStatus, cause error) {
	if isRuntimeTimeout(cause) {
		kind, msg := errorDetail(cause)
		if err := e.repo.SetError(ctx, name, kind, msg); err != nil {
			logger.WithField("environment", name).WithError(err).Error("Failed to record error status")
			return
		}
		e.events.Publish(Event{Name: name, OldStatus: from, NewStatus: db.StatusError})
		return
	}
	if from != prior {
		if err := e.transition(ctx, name, from, prior); err != nil {
			logger.WithField("environment", name).WithError(err).Error("Failed to revert status")
		}
	}
}

// wrap attributes an adapter or registry error to an environment operation,
// mapping typed runtime errors onto the shared error taxonomy.
func (e *Engine) wrap(name, operation string, err error) error {
	if err == nil {
		return nil
	}

	code := errors.GetCode(err)
	var rtErr *container.RuntimeError
	if stderrors.As(err, &rtErr) {
		code = runtimeCode(rtErr.Kind)
	}

	msg := fmt.Sprintf("%s failed", operation)
	if name != "" {
		msg = fmt.Sprintf("%s failed for environment %q", operation, name)
	}
	wrapped := errors.Wrap(code, msg, err)
	if name != "" {
		wrapped = wrapped.WithContext("environment", name)
	}
	return wrapped.WithContext("operation", operation)
}

// runtimeCode maps a container error kind onto the shared error taxonomy
func runtimeCode(kind container.ErrorKind) errors.ErrorCode {
	switch kind {
	case container.KindNotFound:
		return errors.ErrNotFound
	case container.KindAlreadyRunning:
		return errors.ErrConflict
	case container.KindUnavailable:
		return errors.ErrAdapterUnavailable
	case container.KindTimeout:
		return errors.ErrTimeout
	default:
		return errors.ErrAdapterError
	}
}

// errorDetail extracts a kind and message pair for the registry's error columns
func errorDetail(err error) (kind, msg string) {
	var rtErr *container.RuntimeError
	if stderrors.As(err, &rtErr) {
		return string(rtErr.Kind), rtErr.Message
	}
	if appErr, ok := errors.AsError(err); ok {
		return string(appErr.Code), appErr.Message
	}
	return string(errors.ErrInternal), err.Error()
}

// isRuntimeNotFound reports whether err is a runtime not-found, which destroy
// and rollback treat as already removed.
func isRuntimeNotFound(err error) bool {
	var rtErr *container.RuntimeError
	return stderrors.As(err, &rtErr) && rtErr.Kind == container.KindNotFound
}

// isRuntimeTimeout reports whether err left the true container state unknown
func isRuntimeTimeout(err error) bool {
	var rtErr *container.RuntimeError
	if stderrors.As(err, &rtErr) && rtErr.Kind == container.KindTimeout {
		return true
	}
	return errors.HasCode(err, errors.ErrTimeout)
}

// parseMount parses a "source:target[:ro]" mount string from a manifest
func parseMount(s string) (container.Mount, error) {
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 2:
		return container.Mount{Source: parts[0], Target: parts[1]}, nil
	case 3:
		return container.Mount{Source: parts[0], Target: parts[1], ReadOnly: true}, nil
	default:
		return container.Mount{}, errors.Newf(errors.ErrInvalidInput, "invalid mount %q", s)
	}
}
