// Package server implements the control-plane: a REST surface mirroring the
// CLI and a multiplexed WebSocket session protocol for agents.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/jehrhardt/makedev/internal/config"
	"github.com/jehrhardt/makedev/internal/constants"
	"github.com/jehrhardt/makedev/internal/container"
	"github.com/jehrhardt/makedev/internal/db"
	"github.com/jehrhardt/makedev/internal/engine"
	"github.com/jehrhardt/makedev/internal/errors"
	"github.com/jehrhardt/makedev/internal/logger"
)

// Server is the control-plane HTTP server
type Server struct {
	cfg       *config.Config
	engine    *engine.Engine
	db        *db.DB
	runtime   container.Runtime
	echo      *echo.Echo
	startTime time.Time
}

// New creates a control-plane server
func New(cfg *config.Config, eng *engine.Engine, database *db.DB, runtime container.Runtime) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler

	return &Server{
		cfg:       cfg,
		engine:    eng,
		db:        database,
		runtime:   runtime,
		echo:      e,
		startTime: time.Now(),
	}
}

// Handler returns the configured HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	s.setupMiddleware()
	s.setupRoutes()
	return s.echo
}

// Start runs the server until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	srv := &http.Server{
		Addr:        addr,
		Handler:     s.echo,
		ReadTimeout: constants.DefaultServerReadTimeout,
		// Write timeout stays unset: WebSocket sessions and streamed exec
		// output are long-lived.
	}

	errChan := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("Control-plane server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("Shutting down control-plane server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultServerShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("Control-plane server stopped")
	return nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(logger.RequestLogger())
}

func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.handleHealth)

	api := s.echo.Group("/api")
	api.GET("/environments", s.handleListEnvironments)
	api.POST("/environments", s.handleCreateEnvironment)
	api.GET("/environments/:name", s.handleGetEnvironment)
	api.DELETE("/environments/:name", s.handleDestroyEnvironment)
	api.POST("/environments/:name/start", s.handleStartEnvironment)
	api.POST("/environments/:name/stop", s.handleStopEnvironment)
	api.GET("/agent", s.handleAgentSession)
}

// ErrorHandler renders errors as JSON, mapping the shared error taxonomy
// onto HTTP status codes.
func ErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	message := "Internal server error"

	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if msg, ok := he.Message.(string); ok {
			message = msg
		}
	} else if appErr, ok := errors.AsError(err); ok {
		code = appErr.HTTPStatus()
		message = appErr.Message
	}

	if code >= http.StatusInternalServerError {
		logger.GetLogger(c).WithError(err).Error("Request failed")
	}

	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			c.NoContent(code)
		} else {
			c.JSON(code, ErrorResponse{Error: message})
		}
	}
}

// handleAPIError converts an engine error into an echo HTTP error
func handleAPIError(err error) error {
	if appErr, ok := errors.AsError(err); ok {
		return echo.NewHTTPError(appErr.HTTPStatus(), appErr.Message)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
