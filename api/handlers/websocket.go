package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ConnectionHandler upgrades and serves one collaboration connection.
type ConnectionHandler interface {
	HandleConnection(w http.ResponseWriter, r *http.Request) error
}

// WebSocketHandler handles WebSocket connections for collaboration sessions.
type WebSocketHandler struct {
	wsHandler ConnectionHandler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler ConnectionHandler) *WebSocketHandler {
	return &WebSocketHandler{
		wsHandler: wsHandler,
	}
}

// Connect handles the WebSocket endpoint. The session to join is chosen by
// the client's first join_session message, not by the URL.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	if err := h.wsHandler.HandleConnection(c.Writer, c.Request); err != nil {
		// The upgrader has already written the error response.
		c.Abort()
		return
	}
}

// RegisterRoutes registers the WebSocket endpoint at path.
func (h *WebSocketHandler) RegisterRoutes(r gin.IRoutes, path string) {
	r.GET(path, h.Connect)
}
