package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agent-studio/collab/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// DefaultMaxMessageSize is the largest frame accepted from a peer.
	DefaultMaxMessageSize = 64 * 1024
)

// HandlerOptions configures the WebSocket handler.
type HandlerOptions struct {
	// AllowedOrigins lists browser origins allowed to connect. Empty or "*"
	// allows any origin.
	AllowedOrigins []string
	MaxMessageSize int64
	SendBuffer     int
	Logger         *slog.Logger
}

// Handler upgrades HTTP requests and pumps frames between the connection
// and the hub.
type Handler struct {
	hub            *Hub
	upgrader       websocket.Upgrader
	maxMessageSize int64
	sendBuffer     int
	logger         *slog.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, opts HandlerOptions) *Handler {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.Logger == nil {
		opts.Logger = hub.logger
	}
	return &Handler{
		hub:            hub,
		upgrader:       makeUpgrader(opts.AllowedOrigins),
		maxMessageSize: opts.MaxMessageSize,
		sendBuffer:     opts.SendBuffer,
		logger:         opts.Logger,
	}
}

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// ServeHTTP upgrades the request and starts the connection's pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.HandleConnection(w, r); err != nil {
		h.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
	}
}

// HandleConnection upgrades the HTTP connection to WebSocket and registers
// the new client with the hub. The client must send join_session before
// anything else.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an error response.
		return err
	}

	client := NewClient(h.hub, conn, h.sendBuffer)
	if err := h.hub.Register(client); err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return err
	}
	client.logger.Info("client connected", "remote_addr", r.RemoteAddr)

	go h.writePump(client)
	go h.readPump(client)
	return nil
}

// readPump pumps messages from the WebSocket connection to the hub.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.hub.Unregister(client)
		client.Conn().Close()
		client.logger.Info("client disconnected")
	}()

	client.Conn().SetReadLimit(h.maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				client.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		msg, err := protocol.DecodeInbound(data)
		if err != nil {
			// Malformed frames are dropped; the connection stays open.
			client.logger.Warn("dropped malformed message", "error", err)
			continue
		}

		if err := h.hub.Submit(client, msg); err != nil {
			if !errors.Is(err, ErrHubClosed) {
				client.logger.Error("failed to submit message", "error", err)
			}
			return
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON document per frame.
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queued, ok := <-client.SendChan()
				if !ok {
					client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.Conn().WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
