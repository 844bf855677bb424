package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jehrhardt/makedev/internal/errors"
)

// EnvironmentRepository handles database operations for environment records.
// It is the single source of truth for environment identity and status.
type EnvironmentRepository struct {
	db *DB
}

// NewEnvironmentRepository creates a new environment repository
func NewEnvironmentRepository(db *DB) *EnvironmentRepository {
	return &EnvironmentRepository{db: db}
}

const environmentColumns = `id, name, branch, base_branch, worktree_path, container_id,
	container_name, status, error_kind, error_message, created_at, updated_at`

// Create inserts a new environment record. The unique index on name makes the
// uniqueness check atomic with the insert: of two concurrent creates for the
// same name, the second fails with AlreadyExists.
func (r *EnvironmentRepository) Create(ctx context.Context, env *Environment) error {
	query := `
		INSERT INTO environments (id, name, branch, base_branch, worktree_path, container_id,
			container_name, status, error_kind, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`

	_, err := r.db.ExecContext(ctx, query,
		env.ID,
		env.Name,
		env.Branch,
		env.BaseBranch,
		env.WorktreePath,
		env.ContainerID,
		env.ContainerName,
		env.Status,
		env.ErrorKind,
		env.ErrorMessage,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Newf(errors.ErrAlreadyExists, "environment %q already exists", env.Name)
		}
		return errors.Wrap(errors.ErrInternal, "failed to insert environment record", err)
	}

	return nil
}

// Get returns an environment by name
func (r *EnvironmentRepository) Get(ctx context.Context, name string) (*Environment, error) {
	query := `SELECT ` + environmentColumns + ` FROM environments WHERE name = ?`

	var env Environment
	if err := r.db.GetContext(ctx, &env, query, name); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Newf(errors.ErrNotFound, "environment %q not found", name)
		}
		return nil, errors.Wrap(errors.ErrInternal, "failed to query environment", err)
	}

	return &env, nil
}

// List returns environments, optionally filtered by status, newest first
func (r *EnvironmentRepository) List(ctx context.Context, status EnvironmentStatus) ([]Environment, error) {
	query := `SELECT ` + environmentColumns + ` FROM environments`
	args := []interface{}{}

	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, name ASC"

	var envs []Environment
	if err := r.db.SelectContext(ctx, &envs, query, args...); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to list environments", err)
	}

	return envs, nil
}

// Update persists the mutable fields of an environment record without a
// status guard. Callers that race on status must use UpdateStatus instead.
func (r *EnvironmentRepository) Update(ctx context.Context, env *Environment) error {
	query := `
		UPDATE environments
		SET branch = ?, base_branch = ?, worktree_path = ?, container_id = ?,
			container_name = ?, status = ?, error_kind = ?, error_message = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE name = ?`

	result, err := r.db.ExecContext(ctx, query,
		env.Branch,
		env.BaseBranch,
		env.WorktreePath,
		env.ContainerID,
		env.ContainerName,
		env.Status,
		env.ErrorKind,
		env.ErrorMessage,
		env.Name,
	)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to update environment", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to get rows affected", err)
	}
	if rows == 0 {
		return errors.Newf(errors.ErrNotFound, "environment %q not found", env.Name)
	}

	return nil
}

// UpdateStatus transitions an environment from one status to another with an
// optimistic guard: the write only lands if the stored status still matches
// `from`, so a stale writer cannot clobber a newer transition.
func (r *EnvironmentRepository) UpdateStatus(ctx context.Context, name string, from, to EnvironmentStatus) error {
	query := `
		UPDATE environments
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE name = ? AND status = ?`

	result, err := r.db.ExecContext(ctx, query, to, name, from)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to update environment status", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to get rows affected", err)
	}
	if rows == 0 {
		// Either the record is gone or someone transitioned it first.
		if _, getErr := r.Get(ctx, name); getErr != nil {
			return getErr
		}
		return errors.Newf(errors.ErrConflict,
			"environment %q is no longer in status %q", name, from)
	}

	return nil
}

// SetError moves an environment to the error status with a structured detail,
// regardless of its current status.
func (r *EnvironmentRepository) SetError(ctx context.Context, name, kind, message string) error {
	query := `
		UPDATE environments
		SET status = ?, error_kind = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE name = ?`

	result, err := r.db.ExecContext(ctx, query, StatusError, kind, message, name)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to set environment error", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to get rows affected", err)
	}
	if rows == 0 {
		return errors.Newf(errors.ErrNotFound, "environment %q not found", name)
	}

	return nil
}

// Delete removes an environment record by name
func (r *EnvironmentRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM environments WHERE name = ?`, name)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to delete environment", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to get rows affected", err)
	}
	if rows == 0 {
		return errors.Newf(errors.ErrNotFound, "environment %q not found", name)
	}

	return nil
}

// isUniqueViolation reports whether err is a sqlite unique constraint failure.
// mattn/go-sqlite3 error codes are matched on the message to avoid importing
// the driver's cgo types here.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
