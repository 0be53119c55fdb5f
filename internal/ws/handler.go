// Package ws streams terminal sessions over WebSocket.
//
// One connection drives one session: a pump loop polls the session on a
// configurable interval and forwards output frames, while a reader
// goroutine feeds client messages (input, resize, ping) into the pump so
// every engine call happens on a single goroutine.
package ws

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/plue/termcore/internal/logging"
	"github.com/plue/termcore/internal/monitoring"
	"github.com/plue/termcore/internal/term"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientMessage is a control frame from the client.
type clientMessage struct {
	Type   string `json:"type"`             // "input", "text", "resize", "ping"
	Data   string `json:"data,omitempty"`   // input payload
	Base64 bool   `json:"base64,omitempty"` // Data is base64-encoded binary
	Cols   uint16 `json:"cols,omitempty"`
	Rows   uint16 `json:"rows,omitempty"`
}

// Handler manages WebSocket terminal streams.
type Handler struct {
	manager      *term.Manager
	log          *logging.Logger
	metrics      *monitoring.Metrics
	pollInterval time.Duration
}

// NewHandler creates a WebSocket handler. pollInterval controls the
// output pump cadence.
func NewHandler(manager *term.Manager, logger *logging.Logger, metrics *monitoring.Metrics, pollInterval time.Duration) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = 20 * time.Millisecond
	}
	return &Handler{
		manager:      manager,
		log:          logger.Named("ws"),
		metrics:      metrics,
		pollInterval: pollInterval,
	}
}

// HandleConnection upgrades the request and streams the session until
// either side goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	session, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
		defer h.metrics.WSConnections.Dec()
	}

	log := h.log.With(zap.String("session_id", session.ID()))
	log.Debug("stream opened")

	inbound := make(chan clientMessage, 16)
	go func() {
		defer close(inbound)
		for {
			var msg clientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			inbound <- msg
		}
	}()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	buf := make([]byte, 32*1024)

	for {
		select {
		case msg, ok := <-inbound:
			if !ok {
				log.Debug("stream closed by client")
				return
			}
			if err := h.handleMessage(conn, session, msg); err != nil {
				h.sendError(conn, err.Error())
			}

		case <-ticker.C:
			if _, err := session.Poll(); err != nil {
				log.Warn("poll failed", zap.Error(err))
			}
			if err := h.flushOutput(conn, session, buf); err != nil {
				return
			}
			if !session.IsRunning() {
				// Drain whatever the child produced before exiting.
				if err := h.flushOutput(conn, session, buf); err != nil {
					return
				}
				h.send(conn, gin.H{
					"type":        "exit",
					"exit_status": session.ExitStatus(),
				})
				log.Debug("stream closed on session end")
				return
			}
		}
	}
}

func (h *Handler) handleMessage(conn *websocket.Conn, session *term.Session, msg clientMessage) error {
	switch msg.Type {
	case "input":
		data := []byte(msg.Data)
		if msg.Base64 {
			decoded, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				return err
			}
			data = decoded
		}
		return session.Write(data)
	case "text":
		return session.SendText(msg.Data)
	case "resize":
		return session.Resize(msg.Cols, msg.Rows)
	case "ping":
		h.send(conn, gin.H{"type": "pong"})
		return nil
	default:
		h.sendError(conn, "unknown message type")
		return nil
	}
}

// flushOutput forwards buffered session output to the client, one frame
// per read, until the session has nothing more right now.
func (h *Handler) flushOutput(conn *websocket.Conn, session *term.Session, buf []byte) error {
	for {
		n, err := session.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if err := h.send(conn, gin.H{
			"type": "output",
			"data": base64.StdEncoding.EncodeToString(buf[:n]),
		}); err != nil {
			return err
		}
		if n < len(buf) {
			return nil
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, data interface{}) error {
	return conn.WriteJSON(data)
}

func (h *Handler) sendError(conn *websocket.Conn, msg string) error {
	return h.send(conn, gin.H{
		"type":    "error",
		"message": msg,
	})
}
