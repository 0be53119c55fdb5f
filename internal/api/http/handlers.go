// Package http provides the REST surface over the terminal engine.
//
// Every handler is a thin adapter: it validates the request, calls one
// Manager or Session operation, and maps engine errors to status codes.
// The output endpoint pumps Poll before Read, so an HTTP-only client
// polling it periodically is a complete event loop for a session.
package http

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/plue/termcore/internal/logging"
	"github.com/plue/termcore/internal/pty"
	"github.com/plue/termcore/internal/term"
)

// Handlers bundles the REST handlers and their dependencies.
type Handlers struct {
	manager *term.Manager
	log     *logging.Logger
}

// NewHandlers creates the REST handler set.
func NewHandlers(manager *term.Manager, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		manager: manager,
		log:     logger.Named("http"),
	}
}

type createRequest struct {
	Shell string            `json:"shell"`
	Dir   string            `json:"dir"`
	Cols  uint16            `json:"cols"`
	Rows  uint16            `json:"rows"`
	Env   map[string]string `json:"env"`
}

type inputRequest struct {
	// Data is the input payload: UTF-8 text, or base64 when Base64 is set
	// (binary input, embedded NUL bytes).
	Data   string `json:"data" binding:"required"`
	Base64 bool   `json:"base64"`
}

type resizeRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// Create spawns a new terminal session.
func (h *Handlers) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var env []string
	for key, value := range req.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}

	session, err := h.manager.Create(term.Options{
		Shell: req.Shell,
		Dir:   req.Dir,
		Cols:  req.Cols,
		Rows:  req.Rows,
		Env:   env,
	})
	if err != nil {
		h.log.Error("session create failed", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, session.Info())
}

// List returns all tracked sessions.
func (h *Handlers) List(c *gin.Context) {
	infos := h.manager.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": infos,
		"count":    len(infos),
	})
}

// Get returns one session snapshot.
func (h *Handlers) Get(c *gin.Context) {
	session, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, session.Info())
}

// Input writes payload bytes to the session's pty.
func (h *Handlers) Input(c *gin.Context) {
	session, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data := []byte(req.Data)
	if req.Base64 {
		decoded, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid base64 payload"})
			return
		}
		data = decoded
	}

	if err := session.Write(data); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"written": len(data)})
}

// Output pumps the session once and drains buffered output. Zero-length
// data with "running": false tells the client the session has ended.
func (h *Handlers) Output(c *gin.Context) {
	session, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	if _, err := session.Poll(); err != nil {
		h.log.Warn("session poll failed", zap.String("session_id", session.ID()), zap.Error(err))
	}

	buf := make([]byte, 64*1024)
	n, err := session.Read(buf)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":        base64.StdEncoding.EncodeToString(buf[:n]),
		"length":      n,
		"running":     session.IsRunning(),
		"exit_status": session.ExitStatus(),
	})
}

// Resize changes the session geometry.
func (h *Handlers) Resize(c *gin.Context) {
	session, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	var req resizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := session.Resize(req.Cols, req.Rows); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cols": req.Cols, "rows": req.Rows})
}

// Stop terminates the session's child but keeps it queryable.
func (h *Handlers) Stop(c *gin.Context) {
	if err := h.manager.Stop(c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

// Delete closes the session and removes it from the registry.
func (h *Handlers) Delete(c *gin.Context) {
	if err := h.manager.Remove(c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

// Health is the liveness endpoint.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": h.manager.Count(),
	})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, term.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, term.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, term.ErrNotRunning), errors.Is(err, term.ErrSessionClosed), errors.Is(err, term.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, pty.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, pty.ErrResourceExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, pty.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, pty.ErrClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
