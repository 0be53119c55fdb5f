package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plue/termcore/internal/config"
	"github.com/plue/termcore/internal/logging"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skipf("/bin/sh not available: %v", err)
	}
	cfg := config.Default()
	cfg.Terminal.Shell = "/bin/sh"
	cfg.Terminal.StopGrace = 200 * time.Millisecond
	cfg.RateLimit.Enabled = false
	srv := New(cfg, logging.NewNop())
	t.Cleanup(func() { srv.Close() })
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func createSession(t *testing.T, srv *Server) string {
	t.Helper()
	w, body := doJSON(t, srv, http.MethodPost, "/terminals", map[string]any{})
	if w.Code != http.StatusCreated {
		t.Skipf("cannot spawn shell under pty: %v", body["error"])
	}
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	w, body := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["sessions"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "termcore_sessions_total")
}

func TestTerminalCRUDFlow(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv)

	// The session shows up in both Get and List.
	w, body := doJSON(t, srv, http.MethodGet, "/terminals/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", body["state"])
	assert.Equal(t, "/bin/sh", body["shell"])

	w, body = doJSON(t, srv, http.MethodGet, "/terminals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	// Input then poll output until the echo comes back.
	w, _ = doJSON(t, srv, http.MethodPost, "/terminals/"+id+"/input",
		map[string]any{"data": "echo round-trip-marker\n"})
	require.Equal(t, http.StatusOK, w.Code)

	var collected []byte
	require.Eventually(t, func() bool {
		w, body := doJSON(t, srv, http.MethodGet, "/terminals/"+id+"/output", nil)
		if w.Code != http.StatusOK {
			return false
		}
		chunk, err := base64.StdEncoding.DecodeString(body["data"].(string))
		require.NoError(t, err)
		collected = append(collected, chunk...)
		return strings.Contains(string(collected), "round-trip-marker")
	}, 5*time.Second, 20*time.Millisecond)

	// Resize applies and rejects zero geometry.
	w, _ = doJSON(t, srv, http.MethodPost, "/terminals/"+id+"/resize",
		map[string]any{"cols": 120, "rows": 40})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, srv, http.MethodPost, "/terminals/"+id+"/resize",
		map[string]any{"cols": 0, "rows": 40})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Stop keeps the session queryable with its exit status.
	w, _ = doJSON(t, srv, http.MethodPost, "/terminals/"+id+"/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = doJSON(t, srv, http.MethodGet, "/terminals/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stopped", body["state"])
	assert.NotNil(t, body["exit_status"])

	// Delete removes it for good.
	w, _ = doJSON(t, srv, http.MethodDelete, "/terminals/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, srv, http.MethodGet, "/terminals/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInputBase64(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv)

	payload := base64.StdEncoding.EncodeToString([]byte("echo b64-marker\n"))
	w, _ := doJSON(t, srv, http.MethodPost, "/terminals/"+id+"/input",
		map[string]any{"data": payload, "base64": true})
	require.Equal(t, http.StatusOK, w.Code)

	var collected []byte
	require.Eventually(t, func() bool {
		_, body := doJSON(t, srv, http.MethodGet, "/terminals/"+id+"/output", nil)
		chunk, err := base64.StdEncoding.DecodeString(body["data"].(string))
		require.NoError(t, err)
		collected = append(collected, chunk...)
		return strings.Contains(string(collected), "b64-marker")
	}, 5*time.Second, 20*time.Millisecond)

	w, _ = doJSON(t, srv, http.MethodPost, "/terminals/"+id+"/input",
		map[string]any{"data": "!!!not base64!!!", "base64": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInputAfterStopConflicts(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv)

	w, _ := doJSON(t, srv, http.MethodPost, "/terminals/"+id+"/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, srv, http.MethodPost, "/terminals/"+id+"/input",
		map[string]any{"data": "whoami\n"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUnknownSessionIs404(t *testing.T) {
	srv := newTestServer(t)

	for _, r := range []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/terminals/term_missing", nil},
		{http.MethodGet, "/terminals/term_missing/output", nil},
		{http.MethodPost, "/terminals/term_missing/input", map[string]any{"data": "x"}},
		{http.MethodPost, "/terminals/term_missing/resize", map[string]any{"cols": 80, "rows": 24}},
		{http.MethodPost, "/terminals/term_missing/stop", nil},
		{http.MethodDelete, "/terminals/term_missing", nil},
	} {
		w, _ := doJSON(t, srv, r.method, r.path, r.body)
		assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", r.method, r.path)
	}
}

func TestCreateValidatesBody(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/terminals", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOutputReportsExit(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv)

	w, _ := doJSON(t, srv, http.MethodPost, "/terminals/"+id+"/input",
		map[string]any{"data": "exit 7\n"})
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		_, body := doJSON(t, srv, http.MethodGet, fmt.Sprintf("/terminals/%s/output", id), nil)
		running, _ := body["running"].(bool)
		if running {
			return false
		}
		status, ok := body["exit_status"].(float64)
		return ok && int(status) == 7
	}, 5*time.Second, 20*time.Millisecond)
}
