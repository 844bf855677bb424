package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jehrhardt/makedev/internal/db"
	"github.com/jehrhardt/makedev/internal/engine"
)

func (s *Server) handleListEnvironments(c echo.Context) error {
	status := db.EnvironmentStatus(c.QueryParam("status"))
	if status != "" && !status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status filter")
	}

	envs, err := s.engine.List(c.Request().Context(), status)
	if err != nil {
		return handleAPIError(err)
	}

	return c.JSON(http.StatusOK, EnvironmentsResponse{
		Environments: envs,
		Total:        len(envs),
	})
}

func (s *Server) handleCreateEnvironment(c echo.Context) error {
	var req CreateEnvironmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	env, err := s.engine.Create(c.Request().Context(), engine.CreateOptions{
		Name:       req.Name,
		Branch:     req.Branch,
		BaseBranch: req.BaseBranch,
	})
	if err != nil {
		return handleAPIError(err)
	}

	return c.JSON(http.StatusCreated, env)
}

func (s *Server) handleGetEnvironment(c echo.Context) error {
	env, err := s.engine.Status(c.Request().Context(), c.Param("name"))
	if err != nil {
		return handleAPIError(err)
	}
	return c.JSON(http.StatusOK, env)
}

func (s *Server) handleDestroyEnvironment(c echo.Context) error {
	if err := s.engine.Destroy(c.Request().Context(), c.Param("name")); err != nil {
		return handleAPIError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStartEnvironment(c echo.Context) error {
	env, err := s.engine.Start(c.Request().Context(), c.Param("name"))
	if err != nil {
		return handleAPIError(err)
	}
	return c.JSON(http.StatusOK, env)
}

func (s *Server) handleStopEnvironment(c echo.Context) error {
	env, err := s.engine.Stop(c.Request().Context(), c.Param("name"))
	if err != nil {
		return handleAPIError(err)
	}
	return c.JSON(http.StatusOK, env)
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{
		Status: "healthy",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
		Checks: HealthChecks{
			Database:        "healthy",
			ContainerEngine: "healthy",
		},
	}

	code := http.StatusOK
	if err := s.db.HealthCheck(c.Request().Context()); err != nil {
		resp.Checks.Database = "unhealthy"
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if !s.runtime.IsAvailable(c.Request().Context()) {
		resp.Checks.ContainerEngine = "unhealthy"
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, resp)
}
