package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentchatbus/agentchatbus/internal/bus/session"
	"github.com/agentchatbus/agentchatbus/internal/common/logger"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The bus binds to loopback; remote origins never reach it.
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	hub      *Hub
	sessions *session.Registry
	logger   *logger.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, sessions *session.Registry, log *logger.Logger) *Handler {
	return &Handler{
		hub:      hub,
		sessions: sessions,
		logger:   log.WithFields(zap.String("component", "ws_handler")),
	}
}

// HandleConnection upgrades HTTP to WebSocket and handles messages
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()

	h.logger.Debug("WebSocket connection established",
		zap.String("client_id", clientID),
		zap.String("remote_addr", c.Request.RemoteAddr),
	)

	client := NewClient(clientID, conn, h.hub, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump(c.Request.Context())

	// Connection gone; drop any agent identity bound to it.
	h.sessions.Unbind(clientID)
}
