package server

import (
	"github.com/jehrhardt/makedev/internal/db"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateEnvironmentRequest represents a request to create an environment
type CreateEnvironmentRequest struct {
	Name       string `json:"name"`
	Branch     string `json:"branch,omitempty"`
	BaseBranch string `json:"base_branch,omitempty"`
}

// EnvironmentsResponse represents a list of environments
type EnvironmentsResponse struct {
	Environments []db.Environment `json:"environments"`
	Total        int              `json:"total"`
}

// HealthResponse represents the control plane's health
type HealthResponse struct {
	Status string       `json:"status"`
	Uptime string       `json:"uptime"`
	Checks HealthChecks `json:"checks"`
}

// HealthChecks reports the health of the server's dependencies
type HealthChecks struct {
	Database        string `json:"database"`
	ContainerEngine string `json:"container_engine"`
}
