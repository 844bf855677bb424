package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/jehrhardt/makedev/internal/container"
	"github.com/jehrhardt/makedev/internal/engine"
	"github.com/jehrhardt/makedev/internal/errors"
	"github.com/jehrhardt/makedev/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// CLI and agent clients connect without an Origin header
		if origin == "" {
			return true
		}
		for _, allowed := range []string{
			"http://localhost", "https://localhost",
			"http://127.0.0.1", "https://127.0.0.1",
			"http://[::1]", "https://[::1]",
		} {
			if strings.HasPrefix(origin, allowed) {
				return true
			}
		}
		logger.WithField("origin", origin).Warn("Rejected WebSocket connection from unknown origin")
		return false
	},
}

// RequestFrame is a single operation request within a session
type RequestFrame struct {
	ID     string          `json:"id"`
	Op     string          `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame answers a request; exactly one terminal response per request
type ResponseFrame struct {
	ID     string      `json:"id"`
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *FrameError `json:"error,omitempty"`
}

// FrameError carries a structured operation failure
type FrameError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ChunkFrame streams incremental exec output for a request
type ChunkFrame struct {
	ID    string       `json:"id"`
	Chunk StreamedData `json:"chunk"`
}

// StreamedData is one piece of exec output
type StreamedData struct {
	Stream string `json:"stream"`
	Data   []byte `json:"data"`
}

// EventFrame pushes an environment status change to a subscribed session
type EventFrame struct {
	Event       string `json:"event"`
	Environment string `json:"environment"`
	OldStatus   string `json:"old_status"`
	NewStatus   string `json:"new_status"`
}

// execParams parameterizes execute_command
type execParams struct {
	Environment    string   `json:"environment"`
	Command        []string `json:"command"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	Stream         bool     `json:"stream,omitempty"`
}

// fileParams parameterizes read_file and write_file
type fileParams struct {
	Environment string `json:"environment"`
	Path        string `json:"path"`
	Content     []byte `json:"content,omitempty"`
}

type nameParams struct {
	Name string `json:"name"`
}

// execResultView is the terminal result of execute_command
type execResultView struct {
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// session is one connected agent. A single reader goroutine parses frames,
// each request runs on its own goroutine, and a single writer goroutine owns
// the connection's write side.
type session struct {
	conn   *websocket.Conn
	engine *engine.Engine

	ctx    context.Context
	cancel context.CancelFunc

	outbound chan interface{}
	wg       sync.WaitGroup

	subscribeOnce sync.Once
}

func (s *Server) handleAgentSession(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		conn:     conn,
		engine:   s.engine,
		ctx:      ctx,
		cancel:   cancel,
		outbound: make(chan interface{}, 64),
	}

	logger.WithField("remote", conn.RemoteAddr().String()).Info("Agent session opened")
	sess.run()
	logger.WithField("remote", conn.RemoteAddr().String()).Info("Agent session closed")
	return nil
}

func (s *session) run() {
	var writerDone sync.WaitGroup
	writerDone.Add(1)
	go func() {
		defer writerDone.Done()
		s.writeLoop()
	}()

	s.readLoop()

	// Disconnect: cancel in-flight request contexts, wait for the request
	// goroutines to finish, then let the writer drain and exit.
	s.cancel()
	s.wg.Wait()
	close(s.outbound)
	writerDone.Wait()
	s.conn.Close()
}

func (s *session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Debug("Agent session read failed")
			}
			return
		}

		var req RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			// Recover the id on its own when the rest of the frame is bad,
			// so a pipelining client can still correlate the failure.
			var partial struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(data, &partial)
			s.send(ResponseFrame{ID: partial.ID, OK: false, Error: &FrameError{
				Kind:    string(errors.ErrInvalidInput),
				Message: "malformed frame",
			}})
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.dispatch(req)
		}()
	}
}

func (s *session) writeLoop() {
	for frame := range s.outbound {
		if err := s.conn.WriteJSON(frame); err != nil {
			logger.WithError(err).Debug("Agent session write failed")
			return
		}
	}
}

// send queues a frame for the writer. Frames are dropped once the session is
// shutting down and the writer can no longer drain them.
func (s *session) send(frame interface{}) {
	select {
	case s.outbound <- frame:
	case <-s.ctx.Done():
	}
}

func (s *session) dispatch(req RequestFrame) {
	// Lifecycle operations must not be torn down mid-flight by a vanishing
	// session; only exec and file transfer follow the session's context.
	detached := context.Background()

	switch req.Op {
	case "list_environments":
		envs, err := s.engine.List(detached, "")
		s.respond(req.ID, envs, err)

	case "create_environment":
		var p struct {
			Name       string `json:"name"`
			Branch     string `json:"branch,omitempty"`
			BaseBranch string `json:"base_branch,omitempty"`
		}
		if !s.decode(req, &p) {
			return
		}
		env, err := s.engine.Create(detached, engine.CreateOptions{
			Name:       p.Name,
			Branch:     p.Branch,
			BaseBranch: p.BaseBranch,
		})
		s.respond(req.ID, env, err)

	case "destroy_environment":
		var p nameParams
		if !s.decode(req, &p) {
			return
		}
		err := s.engine.Destroy(detached, p.Name)
		s.respond(req.ID, map[string]string{"name": p.Name}, err)

	case "execute_command":
		s.handleExec(req)

	case "read_file":
		var p fileParams
		if !s.decode(req, &p) {
			return
		}
		content, err := s.engine.ReadFile(s.ctx, p.Environment, p.Path)
		s.respond(req.ID, map[string][]byte{"content": content}, err)

	case "write_file":
		var p fileParams
		if !s.decode(req, &p) {
			return
		}
		err := s.engine.WriteFile(s.ctx, p.Environment, p.Path, p.Content)
		s.respond(req.ID, map[string]string{"path": p.Path}, err)

	case "subscribe_events":
		s.handleSubscribe(req)

	default:
		s.send(ResponseFrame{ID: req.ID, OK: false, Error: &FrameError{
			Kind:    string(errors.ErrInvalidInput),
			Message: "unknown operation " + req.Op,
		}})
	}
}

func (s *session) handleExec(req RequestFrame) {
	var p execParams
	if !s.decode(req, &p) {
		return
	}

	timeout := time.Duration(p.TimeoutSeconds) * time.Second

	var result *container.ExecResult
	var err error
	if p.Stream {
		result, err = s.engine.ExecStream(s.ctx, p.Environment, p.Command, timeout, func(chunk container.Chunk) {
			s.send(ChunkFrame{ID: req.ID, Chunk: StreamedData{
				Stream: chunk.Stream,
				Data:   chunk.Data,
			}})
		})
	} else {
		result, err = s.engine.Exec(s.ctx, p.Environment, p.Command, timeout)
	}
	if err != nil {
		s.respond(req.ID, nil, err)
		return
	}

	view := execResultView{
		ExitCode:   result.ExitCode,
		DurationMS: result.Duration.Milliseconds(),
	}
	if !p.Stream {
		view.Stdout = result.Stdout
		view.Stderr = result.Stderr
	}
	s.respond(req.ID, view, nil)
}

func (s *session) handleSubscribe(req RequestFrame) {
	subscribed := false
	s.subscribeOnce.Do(func() {
		subscribed = true
		events, cancel := s.engine.Events().Subscribe()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer cancel()
			for {
				select {
				case event, ok := <-events:
					if !ok {
						return
					}
					s.send(EventFrame{
						Event:       "status",
						Environment: event.Name,
						OldStatus:   string(event.OldStatus),
						NewStatus:   string(event.NewStatus),
					})
				case <-s.ctx.Done():
					return
				}
			}
		}()
	})

	if !subscribed {
		s.send(ResponseFrame{ID: req.ID, OK: false, Error: &FrameError{
			Kind:    string(errors.ErrConflict),
			Message: "session is already subscribed",
		}})
		return
	}
	s.respond(req.ID, map[string]bool{"subscribed": true}, nil)
}

// decode unmarshals request params, answering with an error frame on failure
func (s *session) decode(req RequestFrame, out interface{}) bool {
	if err := json.Unmarshal(req.Params, out); err != nil {
		s.send(ResponseFrame{ID: req.ID, OK: false, Error: &FrameError{
			Kind:    string(errors.ErrInvalidInput),
			Message: "malformed params for " + req.Op,
		}})
		return false
	}
	return true
}

// respond sends the terminal frame for a request
func (s *session) respond(id string, result interface{}, err error) {
	if err != nil {
		s.send(ResponseFrame{ID: id, OK: false, Error: frameError(err)})
		return
	}
	s.send(ResponseFrame{ID: id, OK: true, Result: result})
}

func frameError(err error) *FrameError {
	if appErr, ok := errors.AsError(err); ok {
		return &FrameError{Kind: string(appErr.Code), Message: appErr.Message}
	}
	return &FrameError{Kind: string(errors.ErrInternal), Message: err.Error()}
}
