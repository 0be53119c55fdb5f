package ws

import (
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plue/termcore/internal/config"
	"github.com/plue/termcore/internal/term"
)

type serverMessage struct {
	Type       string `json:"type"`
	Data       string `json:"data"`
	Message    string `json:"message"`
	ExitStatus *int   `json:"exit_status"`
}

func newStreamServer(t *testing.T) (*httptest.Server, *term.Manager) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skipf("/bin/sh not available: %v", err)
	}

	defaults := config.Default().Terminal
	defaults.Shell = "/bin/sh"
	defaults.StopGrace = 200 * time.Millisecond
	manager := term.NewManager(defaults, nil, nil)
	t.Cleanup(manager.CloseAll)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewHandler(manager, nil, nil, 10*time.Millisecond)
	router.GET("/terminals/:id/stream", handler.HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, manager
}

func dialStream(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/terminals/" + sessionID + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil consumes frames until pred accepts one or the deadline hits.
func readUntil(t *testing.T, conn *websocket.Conn, pred func(serverMessage) bool) serverMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg serverMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		if pred(msg) {
			return msg
		}
	}
}

func TestStreamEchoRoundTrip(t *testing.T) {
	srv, manager := newStreamServer(t)
	session, err := manager.Create(term.Options{})
	if err != nil {
		t.Skipf("cannot spawn shell under pty: %v", err)
	}

	conn := dialStream(t, srv, session.ID())
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "text",
		"data": "echo ws-marker\n",
	}))

	var collected []byte
	readUntil(t, conn, func(msg serverMessage) bool {
		if msg.Type != "output" {
			return false
		}
		chunk, err := base64.StdEncoding.DecodeString(msg.Data)
		require.NoError(t, err)
		collected = append(collected, chunk...)
		return strings.Contains(string(collected), "ws-marker")
	})
}

func TestStreamPing(t *testing.T) {
	srv, manager := newStreamServer(t)
	session, err := manager.Create(term.Options{})
	if err != nil {
		t.Skipf("cannot spawn shell under pty: %v", err)
	}

	conn := dialStream(t, srv, session.ID())
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	readUntil(t, conn, func(msg serverMessage) bool {
		return msg.Type == "pong"
	})
}

func TestStreamReportsExit(t *testing.T) {
	srv, manager := newStreamServer(t)
	session, err := manager.Create(term.Options{})
	if err != nil {
		t.Skipf("cannot spawn shell under pty: %v", err)
	}

	conn := dialStream(t, srv, session.ID())
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "text",
		"data": "exit 3\n",
	}))

	msg := readUntil(t, conn, func(msg serverMessage) bool {
		return msg.Type == "exit"
	})
	require.NotNil(t, msg.ExitStatus)
	assert.Equal(t, 3, *msg.ExitStatus)
}

func TestStreamUnknownSession(t *testing.T) {
	srv, _ := newStreamServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/terminals/term_missing/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)
}

func TestStreamUnknownMessageType(t *testing.T) {
	srv, manager := newStreamServer(t)
	session, err := manager.Create(term.Options{})
	if err != nil {
		t.Skipf("cannot spawn shell under pty: %v", err)
	}

	conn := dialStream(t, srv, session.ID())
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "bogus"}))
	msg := readUntil(t, conn, func(msg serverMessage) bool {
		return msg.Type == "error"
	})
	assert.Equal(t, "unknown message type", msg.Message)
}
