package ws

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agent-studio/collab/internal/protocol"
)

// DefaultSendBuffer is the number of frames queued per client before the
// client is considered too slow and disconnected.
const DefaultSendBuffer = 256

// Client represents a WebSocket client connection.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
	mu     sync.Mutex
	closed bool

	// Session binding. Only the hub goroutine reads or writes these.
	agentID string
	userID  string
}

// NewClient creates a new WebSocket client. conn may be nil for clients
// that are only read through SendChan.
func NewClient(hub *Hub, conn *websocket.Conn, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	id := uuid.NewString()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: hub.logger.With("conn_id", id),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Deliver encodes msg and queues it. It implements session.Peer.
func (c *Client) Deliver(msg protocol.Outbound) {
	data, err := protocol.EncodeOutbound(msg)
	if err != nil {
		c.logger.Error("failed to encode outbound message", "type", msg.Type(), "error", err)
		return
	}
	c.Send(data)
}

// Send queues a frame to be written to the client.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		// Buffer full. Closing the queue makes the write pump drop the
		// connection, which in turn unregisters the client.
		c.logger.Warn("send buffer full, disconnecting slow client", "agent_id", c.agentID, "user_id", c.userID)
		c.closeLocked()
	}
}

// Close closes the client's send queue.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

func (c *Client) bind(agentID, userID string) {
	c.agentID = agentID
	c.userID = userID
}

func (c *Client) unbind() {
	c.agentID = ""
	c.userID = ""
}

func (c *Client) joined() bool {
	return c.agentID != ""
}
