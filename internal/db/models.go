package db

import (
	"time"
)

// EnvironmentStatus represents the lifecycle status of an environment.
// Transitions are owned exclusively by the orchestration engine.
type EnvironmentStatus string

const (
	StatusCreating   EnvironmentStatus = "creating"
	StatusReady      EnvironmentStatus = "ready"
	StatusStarting   EnvironmentStatus = "starting"
	StatusRunning    EnvironmentStatus = "running"
	StatusStopped    EnvironmentStatus = "stopped"
	StatusDestroying EnvironmentStatus = "destroying"
	StatusError      EnvironmentStatus = "error"
)

// Valid reports whether s is a known status value
func (s EnvironmentStatus) Valid() bool {
	switch s {
	case StatusCreating, StatusReady, StatusStarting, StatusRunning,
		StatusStopped, StatusDestroying, StatusError:
		return true
	}
	return false
}

// HasContainer reports whether records in this status are expected to carry a
// container identifier. Ready counts: the container is created during create,
// before the first start.
func (s EnvironmentStatus) HasContainer() bool {
	switch s {
	case StatusReady, StatusStarting, StatusRunning, StatusStopped:
		return true
	}
	return false
}

// Environment represents an isolated development environment: a git worktree
// bound to a branch plus a sandbox container built from it.
type Environment struct {
	ID            string            `json:"id" db:"id"`
	Name          string            `json:"name" db:"name"`
	Branch        string            `json:"branch" db:"branch"`
	BaseBranch    string            `json:"base_branch" db:"base_branch"`
	WorktreePath  string            `json:"worktree_path" db:"worktree_path"`
	ContainerID   string            `json:"container_id,omitempty" db:"container_id"`
	ContainerName string            `json:"container_name" db:"container_name"`
	Status        EnvironmentStatus `json:"status" db:"status"`
	ErrorKind     string            `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMessage  string            `json:"error_message,omitempty" db:"error_message"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for Environment
func (Environment) TableName() string {
	return "environments"
}
