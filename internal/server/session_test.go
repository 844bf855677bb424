package server_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jehrhardt/makedev/internal/container"
	"github.com/jehrhardt/makedev/internal/db"
	"github.com/jehrhardt/makedev/internal/server"
)

// frame is the union of everything a session can push to the client
type frame struct {
	ID          string             `json:"id"`
	OK          bool               `json:"ok"`
	Result      json.RawMessage    `json:"result"`
	Error       *server.FrameError `json:"error"`
	Chunk       *server.StreamedData `json:"chunk"`
	Event       string             `json:"event"`
	Environment string             `json:"environment"`
	NewStatus   string             `json:"new_status"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialSession(t *testing.T, f *serverFixture) *wsClient {
	t.Helper()

	srv := httptest.NewServer(f.handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/agent"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) request(id, op string, params interface{}) {
	c.t.Helper()
	req := server.RequestFrame{ID: id, Op: op}
	if params != nil {
		data, err := json.Marshal(params)
		require.NoError(c.t, err)
		req.Params = data
	}
	require.NoError(c.t, c.conn.WriteJSON(req))
}

func (c *wsClient) readFrame() frame {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f frame
	require.NoError(c.t, c.conn.ReadJSON(&f))
	return f
}

// readResponse skips pushed events and chunks until the terminal response for
// id arrives.
func (c *wsClient) readResponse(id string) frame {
	c.t.Helper()
	for i := 0; i < 50; i++ {
		f := c.readFrame()
		if f.ID == id && f.Chunk == nil {
			return f
		}
	}
	c.t.Fatalf("no response for request %s", id)
	return frame{}
}

func TestSessionCreateAndListEnvironments(t *testing.T) {
	f := newServerFixture(t)
	c := dialSession(t, f)

	c.request("1", "create_environment", map[string]string{"name": "ws-env"})
	resp := c.readResponse("1")
	require.True(t, resp.OK, "create failed: %+v", resp.Error)

	var env db.Environment
	require.NoError(t, json.Unmarshal(resp.Result, &env))
	assert.Equal(t, "ws-env", env.Name)
	assert.Equal(t, db.StatusReady, env.Status)

	c.request("2", "list_environments", nil)
	resp = c.readResponse("2")
	require.True(t, resp.OK)

	var envs []db.Environment
	require.NoError(t, json.Unmarshal(resp.Result, &envs))
	require.Len(t, envs, 1)
	assert.Equal(t, "ws-env", envs[0].Name)
}

func TestSessionErrorsAreFramesNotDisconnects(t *testing.T) {
	f := newServerFixture(t)
	c := dialSession(t, f)

	c.request("1", "destroy_environment", map[string]string{"name": "ghost"})
	resp := c.readResponse("1")
	require.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Kind)

	c.request("2", "no_such_op", nil)
	resp = c.readResponse("2")
	require.False(t, resp.OK)
	assert.Contains(t, resp.Error.Message, "no_such_op")

	// The session survives both failures
	c.request("3", "list_environments", nil)
	assert.True(t, c.readResponse("3").OK)
}

func TestSessionMalformedFrameKeepsRequestID(t *testing.T) {
	f := newServerFixture(t)
	c := dialSession(t, f)

	// The op field has the wrong type, but the id is still parseable and
	// must come back on the error frame.
	err := c.conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"bad-1","op":42}`))
	require.NoError(t, err)

	resp := c.readResponse("bad-1")
	require.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Kind)

	c.request("4", "list_environments", nil)
	assert.True(t, c.readResponse("4").OK)
}

func TestSessionExecStreamsOutput(t *testing.T) {
	f := newServerFixture(t)
	f.runtime.ExecFn = func(ctx context.Context, containerID string, command []string) (*container.ExecResult, error) {
		return &container.ExecResult{
			ExitCode: 2,
			Stdout:   "build output",
			Stderr:   "warning line",
			Duration: 120 * time.Millisecond,
		}, nil
	}

	c := dialSession(t, f)

	c.request("1", "create_environment", map[string]string{"name": "exec-env"})
	require.True(t, c.readResponse("1").OK)
	c.request("2", "execute_command", map[string]interface{}{
		"environment": "exec-env", "command": []string{"true"},
	})
	// environment must be running first
	resp := c.readResponse("2")
	require.False(t, resp.OK)
	assert.Equal(t, "INVALID_STATE", resp.Error.Kind)

	// REST start, then exec with streaming
	rec := f.do(t, "POST", "/api/environments/exec-env/start", nil)
	require.Equal(t, 200, rec.Code)

	c.request("3", "execute_command", map[string]interface{}{
		"environment": "exec-env",
		"command":     []string{"make", "build"},
		"stream":      true,
	})

	streams := map[string]string{}
	var final frame
	for i := 0; i < 50; i++ {
		fr := c.readFrame()
		if fr.ID != "3" {
			continue
		}
		if fr.Chunk != nil {
			streams[fr.Chunk.Stream] += string(fr.Chunk.Data)
			continue
		}
		final = fr
		break
	}

	require.True(t, final.OK, "exec failed: %+v", final.Error)
	assert.Equal(t, "build output", streams["stdout"])
	assert.Equal(t, "warning line", streams["stderr"])

	var result struct {
		ExitCode   int   `json:"exit_code"`
		DurationMS int64 `json:"duration_ms"`
	}
	require.NoError(t, json.Unmarshal(final.Result, &result))
	assert.Equal(t, 2, result.ExitCode)
	assert.Equal(t, int64(120), result.DurationMS)
}

func TestSessionFileTransfer(t *testing.T) {
	f := newServerFixture(t)
	c := dialSession(t, f)

	c.request("1", "create_environment", map[string]string{"name": "file-env"})
	require.True(t, c.readResponse("1").OK)
	rec := f.do(t, "POST", "/api/environments/file-env/start", nil)
	require.Equal(t, 200, rec.Code)

	c.request("2", "write_file", map[string]interface{}{
		"environment": "file-env",
		"path":        "/workspace/hello.txt",
		"content":     []byte("hi there"),
	})
	require.True(t, c.readResponse("2").OK)

	c.request("3", "read_file", map[string]interface{}{
		"environment": "file-env",
		"path":        "/workspace/hello.txt",
	})
	resp := c.readResponse("3")
	require.True(t, resp.OK)

	var result struct {
		Content []byte `json:"content"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, "hi there", string(result.Content))

	// Traversal never reaches the adapter
	c.request("4", "read_file", map[string]interface{}{
		"environment": "file-env",
		"path":        "../etc/passwd",
	})
	resp = c.readResponse("4")
	require.False(t, resp.OK)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Kind)
}

func TestSessionEventSubscription(t *testing.T) {
	f := newServerFixture(t)
	c := dialSession(t, f)

	c.request("1", "subscribe_events", nil)
	require.True(t, c.readResponse("1").OK)

	// A second subscription on the same session is rejected
	c.request("2", "subscribe_events", nil)
	assert.False(t, c.readResponse("2").OK)

	c.request("3", "create_environment", map[string]string{"name": "watched"})

	var statuses []string
	for i := 0; i < 50; i++ {
		fr := c.readFrame()
		if fr.Event == "status" && fr.Environment == "watched" {
			statuses = append(statuses, fr.NewStatus)
		}
		if fr.ID == "3" {
			require.True(t, fr.OK)
			break
		}
	}

	assert.Contains(t, statuses, string(db.StatusCreating))
	// The ready event may land after the response frame
	if !contains(statuses, string(db.StatusReady)) {
		fr := c.readFrame()
		assert.Equal(t, string(db.StatusReady), fr.NewStatus)
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
