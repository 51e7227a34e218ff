// Package syncclient is the client side of a collaborative editing session.
// A Client joins one agent's session over WebSocket, keeps a local view of
// the other participants and recent changes, and sends edits and cursor
// moves.
//
// Senders never queue: anything sent before the join handshake completes,
// or after the connection is gone, is dropped and the sender returns false.
// There is no automatic reconnection; mount a new Client instead.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agent-studio/collab/internal/buffer"
	"github.com/agent-studio/collab/internal/protocol"
)

const (
	// DefaultPath is the server's WebSocket endpoint.
	DefaultPath = "/ws/collab"

	// DefaultHistorySize bounds the local change history.
	DefaultHistorySize = 100

	writeWait = 10 * time.Second
)

// Options configures a Client.
type Options struct {
	// Origin is the HTTP origin of the server, e.g. "https://studio.example".
	// The WebSocket endpoint is derived from it.
	Origin   string
	Path     string
	AgentID  string
	UserID   string
	UserName string

	Handlers    Handlers
	Dialer      *websocket.Dialer
	Logger      *slog.Logger
	HistorySize int
}

// Client is one mounted collaboration channel.
type Client struct {
	opts     Options
	endpoint string
	logger   *slog.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	state        State
	connected    bool
	loading      bool
	err          error
	color        string
	participants map[string]Participant
	order        []string
	history      *buffer.Ring[Change]

	writeMu   sync.Mutex
	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}

	// dispatching is set while the read goroutine runs handlers.
	dispatching atomic.Bool
}

// New creates a client. Call Mount to connect.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.AgentID) == "" {
		return nil, errors.New("syncclient: agent id is required")
	}
	if strings.TrimSpace(opts.UserID) == "" {
		return nil, errors.New("syncclient: user id is required")
	}
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}

	endpoint, err := Endpoint(opts.Origin, opts.Path)
	if err != nil {
		return nil, err
	}

	return &Client{
		opts:         opts,
		endpoint:     endpoint,
		logger:       opts.Logger.With("agent_id", opts.AgentID, "user_id", opts.UserID),
		state:        StateIdle,
		participants: make(map[string]Participant),
		history:      buffer.NewRing[Change](opts.HistorySize),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
	}, nil
}

// Endpoint derives the WebSocket URL from an HTTP origin and a path.
func Endpoint(origin, path string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("syncclient: invalid origin %q: %w", origin, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("syncclient: unsupported origin scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("syncclient: origin %q has no host", origin)
	}
	u.Path = "/" + strings.TrimPrefix(path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Mount opens the connection and sends join_session. The client is ready
// once session_joined arrives; until then IsLoading is true and senders
// drop. Cancelling ctx closes the client.
func (c *Client) Mount(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return errors.New("syncclient: already mounted")
	}
	c.state = StateConnecting
	c.loading = true
	c.mu.Unlock()

	conn, _, err := c.opts.Dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		err = &ConnectionError{Op: "dial", Err: err}
		c.fail(err)
		close(c.done)
		return err
	}

	c.mu.Lock()
	select {
	case <-c.closing:
		c.mu.Unlock()
		conn.Close()
		close(c.done)
		return &ConnectionError{Op: "dial", Err: errors.New("client closed while connecting")}
	default:
	}
	c.conn = conn
	c.mu.Unlock()

	join := protocol.JoinSession{AgentID: c.opts.AgentID, UserID: c.opts.UserID, UserName: c.opts.UserName}
	if err := c.write(join); err != nil {
		err = &ConnectionError{Op: "join", Err: err}
		c.fail(err)
		conn.Close()
		close(c.done)
		return err
	}

	go c.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()
	return nil
}

// Close leaves the session if it is still joined and closes the
// connection. It is safe to call more than once and from any goroutine.
// Outside a handler it returns after the read goroutine has stopped. Called
// from a handler it returns at once and the read goroutine stops when the
// handler returns.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)

		c.mu.Lock()
		conn := c.conn
		joined := c.connected
		c.connected = false
		c.loading = false
		c.mu.Unlock()

		if conn == nil {
			c.mu.Lock()
			idle := c.state == StateIdle
			c.state = StateClosed
			c.mu.Unlock()
			if idle {
				close(c.done)
			}
			return
		}

		next := StateClosed
		if joined {
			leave := protocol.LeaveSession{AgentID: c.opts.AgentID, UserID: c.opts.UserID}
			if werr := c.write(leave); werr == nil {
				next = StateLeft
			} else {
				c.logger.Debug("leave_session not sent", "error", werr)
			}
		}

		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = conn.Close()
		c.setState(next)

		if !c.dispatching.Load() {
			<-c.done
		}
	})
	return err
}

// Done is closed when the connection has stopped reading.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// IsConnected reports whether the join handshake completed and the
// connection is still open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// IsLoading reports whether the client is waiting for session_joined.
func (c *Client) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Err returns the connection error that closed the client, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Color returns the color the server assigned to this client.
func (c *Client) Color() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.color
}

// Participants returns the other participants in join order.
func (c *Client) Participants() []Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Participant, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.participants[id].Clone())
	}
	return out
}

// History returns the local change history, oldest first.
func (c *Client) History() []Change {
	return c.history.Items()
}

// UpdateComponent sends a component replacement. It returns false when the
// message was dropped.
func (c *Client) UpdateComponent(component any) bool {
	raw, ok := c.marshal(component)
	if !ok {
		return false
	}
	return c.send(protocol.ComponentUpdate{UserID: c.opts.UserID, Component: raw})
}

// CreateComponent sends a new component. It returns false when the message
// was dropped.
func (c *Client) CreateComponent(component any) bool {
	raw, ok := c.marshal(component)
	if !ok {
		return false
	}
	return c.send(protocol.ComponentCreate{UserID: c.opts.UserID, Component: raw})
}

// DeleteComponent sends a component deletion. It returns false when the
// message was dropped.
func (c *Client) DeleteComponent(componentID any) bool {
	raw, ok := c.marshal(componentID)
	if !ok {
		return false
	}
	return c.send(protocol.ComponentDelete{UserID: c.opts.UserID, ComponentID: raw})
}

// UpdateCursorPosition sends this client's cursor position. It returns
// false when the message was dropped.
func (c *Client) UpdateCursorPosition(position any) bool {
	raw, ok := c.marshal(position)
	if !ok {
		return false
	}
	return c.send(protocol.CursorUpdate{UserID: c.opts.UserID, Position: raw})
}

func (c *Client) marshal(v any) (json.RawMessage, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.emitError(fmt.Errorf("syncclient: encode payload: %w", err))
		return nil, false
	}
	return raw, true
}

// send writes msg if the session is joined and open, and drops it otherwise.
func (c *Client) send(msg protocol.Inbound) bool {
	if !c.IsConnected() {
		c.logger.Debug("dropped message while not connected", "type", msg.Type())
		return false
	}
	if err := c.write(msg); err != nil {
		c.logger.Warn("failed to send message", "type", msg.Type(), "error", err)
		return false
	}
	return true
}

func (c *Client) write(msg protocol.Inbound) error {
	data, err := protocol.EncodeInbound(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()

		c.dispatching.Store(true)
		ok := c.process(data, err)
		c.dispatching.Store(false)
		if !ok {
			return
		}
	}
}

// process applies one read result and reports whether to keep reading.
func (c *Client) process(data []byte, err error) bool {
	if err != nil {
		select {
		case <-c.closing:
		default:
			c.fail(&ConnectionError{Op: "read", Err: err})
		}
		return false
	}

	msg, err := protocol.DecodeOutbound(data)
	if err != nil {
		// One bad frame does not end the session.
		c.logger.Warn("dropped malformed message", "error", err)
		c.emitError(err)
		return true
	}
	c.handle(msg)
	return true
}

// handle applies one server message to local state and invokes the
// matching callback. Messages about this client's own user are ignored.
func (c *Client) handle(msg protocol.Outbound) {
	h := c.opts.Handlers

	switch m := msg.(type) {
	case protocol.SessionJoined:
		c.mu.Lock()
		select {
		case <-c.closing:
			c.mu.Unlock()
			return
		default:
		}
		c.connected = true
		c.loading = false
		c.state = StateJoined
		c.color = m.Color
		c.participants = make(map[string]Participant, len(m.Users))
		c.order = c.order[:0]
		for _, p := range m.Users {
			if p.UserID == c.opts.UserID {
				continue
			}
			c.participants[p.UserID] = p
			c.order = append(c.order, p.UserID)
		}
		c.mu.Unlock()

		c.history.Clear()
		for _, rec := range m.RecentChanges {
			c.history.Push(rec)
		}
		c.setState(StateActive)
		c.logger.Info("joined session", "participants", len(m.Users), "recent_changes", len(m.RecentChanges))

		if h.OnSessionJoined != nil {
			h.OnSessionJoined(Snapshot{AgentID: m.AgentID, Color: m.Color, Users: m.Users, RecentChanges: m.RecentChanges})
		}

	case protocol.UserJoined:
		if m.UserID == c.opts.UserID {
			return
		}
		p := Participant{UserID: m.UserID, Username: m.Username, Color: m.Color, JoinedAt: time.Now().UTC()}
		c.mu.Lock()
		if _, ok := c.participants[m.UserID]; !ok {
			c.order = append(c.order, m.UserID)
		}
		c.participants[m.UserID] = p
		c.mu.Unlock()
		if h.OnUserJoined != nil {
			h.OnUserJoined(p)
		}

	case protocol.UserLeft:
		if m.UserID == c.opts.UserID {
			return
		}
		c.mu.Lock()
		delete(c.participants, m.UserID)
		for i, id := range c.order {
			if id == m.UserID {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
		if h.OnUserLeft != nil {
			h.OnUserLeft(m.UserID)
		}

	case protocol.CursorUpdated:
		if m.UserID == c.opts.UserID {
			return
		}
		c.mu.Lock()
		if p, ok := c.participants[m.UserID]; ok {
			p.CursorPosition = m.Position
			c.participants[m.UserID] = p
		}
		c.mu.Unlock()
		if h.OnCursorUpdated != nil {
			h.OnCursorUpdated(m.UserID, m.Position)
		}

	case protocol.ComponentChanged:
		if m.Change.AuthorUserID == c.opts.UserID {
			return
		}
		c.history.Push(m.Change)

		var fn func(Change)
		switch m.Change.Kind {
		case ChangeKindUpdate:
			fn = h.OnComponentUpdated
		case ChangeKindCreate:
			fn = h.OnComponentCreated
		case ChangeKindDelete:
			fn = h.OnComponentDeleted
		}
		if fn != nil {
			fn(m.Change)
		}

	default:
		c.emitError(fmt.Errorf("syncclient: unhandled message type %q", msg.Type()))
	}
}

// fail records a connection error and closes the client without a leave.
func (c *Client) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.connected = false
	c.loading = false
	c.state = StateClosed
	c.mu.Unlock()

	c.logger.Warn("collab connection lost", "error", err)
	c.emitError(err)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() && !s.Terminal() {
		return
	}
	c.state = s
}

func (c *Client) emitError(err error) {
	if c.opts.Handlers.OnError != nil {
		c.opts.Handlers.OnError(err)
	}
}
