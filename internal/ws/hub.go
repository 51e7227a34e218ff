package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agent-studio/collab/internal/model"
	"github.com/agent-studio/collab/internal/protocol"
	"github.com/agent-studio/collab/internal/session"
)

// DefaultSweepInterval is how often empty sessions and aged changes are pruned.
const DefaultSweepInterval = 5 * time.Second

// ErrHubClosed is returned by calls made after the hub stopped running.
var ErrHubClosed = errors.New("hub is not running")

// HubConfig holds configuration for the hub.
type HubConfig struct {
	Session       session.Config
	SweepInterval time.Duration
	Logger        *slog.Logger
}

type inboundFrame struct {
	client *Client
	msg    protocol.Inbound
}

type remoteFrame struct {
	agentID string
	msg     protocol.Outbound
}

// Hub owns every collaboration session. All registry state is touched by
// the Run goroutine only; connections talk to it through channels.
type Hub struct {
	registry *session.Registry
	presence *session.Presence
	changes  *session.Broadcaster
	logger   *slog.Logger
	sweep    time.Duration

	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame
	remote     chan remoteFrame
	queries    chan func()
	done       chan struct{}
}

// NewHub creates a new Hub. Call Run to start it.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = cfg.Logger
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	registry := session.NewRegistry(cfg.Session)
	return &Hub{
		registry:   registry,
		presence:   session.NewPresence(registry),
		changes:    session.NewBroadcaster(registry),
		logger:     cfg.Logger,
		sweep:      cfg.SweepInterval,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundFrame),
		remote:     make(chan remoteFrame, 64),
		queries:    make(chan func()),
		done:       make(chan struct{}),
	}
}

// Run processes connection events until ctx is cancelled. Every open
// client is closed on return.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.sweep)
	defer func() {
		ticker.Stop()
		h.shutdown()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = true
			c.logger.Debug("client registered", "clients", len(h.clients))
		case c := <-h.unregister:
			h.detach(c)
		case f := <-h.inbound:
			if h.clients[f.client] {
				h.dispatch(f.client, f.msg)
			}
		case f := <-h.remote:
			h.deliverRemote(f)
		case q := <-h.queries:
			q()
		case <-ticker.C:
			if closed := h.registry.Sweep(); len(closed) > 0 {
				h.logger.Info("swept empty sessions", "agent_ids", closed)
			}
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Unregister removes a client. If the client had joined a session it
// leaves that session as if it had sent leave_session.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.Close()
	}
}

// Submit hands a decoded client message to the hub. Messages from one
// client are processed in the order they are submitted.
func (h *Hub) Submit(c *Client, msg protocol.Inbound) error {
	select {
	case h.inbound <- inboundFrame{client: c, msg: msg}:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// DeliverRemote fans out a message published by another server process to
// the local participants of agentID.
func (h *Hub) DeliverRemote(agentID string, msg protocol.Outbound) {
	select {
	case h.remote <- remoteFrame{agentID: agentID, msg: msg}:
	case <-h.done:
	}
}

// Query runs fn on the hub goroutine with exclusive access to the registry.
// A panic in fn is recovered and returned as a *model.ApplicationError.
func (h *Hub) Query(ctx context.Context, fn func(r *session.Registry)) error {
	return h.exec(ctx, func() { fn(h.registry) })
}

// RecentChanges returns the change log of agentID's session, oldest first.
// It reports false when there is no live session.
func (h *Hub) RecentChanges(ctx context.Context, agentID string) ([]model.ChangeRecord, bool, error) {
	var (
		records []model.ChangeRecord
		ok      bool
	)
	err := h.exec(ctx, func() {
		records, ok = h.changes.Recent(agentID)
	})
	return records, ok, err
}

func (h *Hub) exec(ctx context.Context, fn func()) error {
	var panicErr error
	finished := make(chan struct{})
	q := func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				panicErr = &model.ApplicationError{Type: "query", Err: fmt.Errorf("panic: %v", r)}
				h.logger.Error("query panicked", "error", panicErr)
			}
		}()
		fn()
	}

	select {
	case h.queries <- q:
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return panicErr
	case <-h.done:
		return ErrHubClosed
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// dispatch handles one message. Failures are logged and never reach other
// participants or the hub loop.
func (h *Hub) dispatch(c *Client, msg protocol.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			err := &model.ApplicationError{
				AgentID: c.agentID,
				UserID:  c.userID,
				Type:    string(msg.Type()),
				Err:     fmt.Errorf("panic: %v", r),
			}
			c.logger.Error("message handler panicked", "error", err)
		}
	}()

	err := h.handle(c, msg)
	if err == nil {
		return
	}

	var perr *protocol.ProtocolError
	switch {
	case errors.As(err, &perr):
		c.logger.Warn("rejected message", "type", msg.Type(), "error", err)
	case errors.Is(err, model.ErrNotJoined):
		c.logger.Debug("ignored message before join", "type", msg.Type())
	default:
		c.logger.Error("failed to handle message", "error", &model.ApplicationError{
			AgentID: c.agentID,
			UserID:  c.userID,
			Type:    string(msg.Type()),
			Err:     err,
		})
	}
}

func (h *Hub) handle(c *Client, msg protocol.Inbound) error {
	if _, ok := msg.(protocol.JoinSession); !ok {
		if !c.joined() {
			return model.ErrNotJoined
		}
		if msg.Sender() != c.userID {
			return &protocol.ProtocolError{
				Type:   msg.Type(),
				Reason: fmt.Sprintf("userId %q does not match joined user %q", msg.Sender(), c.userID),
			}
		}
	}

	switch m := msg.(type) {
	case protocol.JoinSession:
		return h.join(c, m)
	case protocol.LeaveSession:
		return h.leave(c, m)
	case protocol.ComponentUpdate:
		_, err := h.changes.Record(c.agentID, c.userID, model.ChangeKindUpdate, m.Component)
		return err
	case protocol.ComponentCreate:
		_, err := h.changes.Record(c.agentID, c.userID, model.ChangeKindCreate, m.Component)
		return err
	case protocol.ComponentDelete:
		_, err := h.changes.Record(c.agentID, c.userID, model.ChangeKindDelete, session.DeletePayload(m.ComponentID))
		return err
	case protocol.CursorUpdate:
		return h.presence.UpdateCursor(c.agentID, c.userID, m.Position)
	default:
		return &protocol.ProtocolError{Type: msg.Type(), Reason: "unhandled message type"}
	}
}

func (h *Hub) join(c *Client, m protocol.JoinSession) error {
	if c.joined() && (c.agentID != m.AgentID || c.userID != m.UserID) {
		// One connection is in at most one session as one user.
		if err := h.registry.Leave(c.agentID, c.userID, c); err != nil {
			c.logger.Debug("previous session already left", "agent_id", c.agentID, "error", err)
		}
		c.unbind()
	}

	result, err := h.registry.Join(m.AgentID, m.UserID, m.UserName, c)
	if err != nil {
		return err
	}
	c.bind(m.AgentID, m.UserID)

	if old, ok := result.Replaced.(*Client); ok && old != c {
		old.unbind()
		old.logger.Info("connection replaced by rejoin", "agent_id", m.AgentID, "user_id", m.UserID, "new_conn_id", c.id)
	}
	return nil
}

func (h *Hub) leave(c *Client, m protocol.LeaveSession) error {
	if m.AgentID != c.agentID {
		return &protocol.ProtocolError{
			Type:   m.Type(),
			Reason: fmt.Sprintf("not joined to agent %q", m.AgentID),
		}
	}
	err := h.registry.Leave(c.agentID, c.userID, c)
	c.unbind()
	return err
}

func (h *Hub) detach(c *Client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)

	if c.joined() {
		if err := h.registry.Leave(c.agentID, c.userID, c); err != nil {
			c.logger.Debug("implicit leave skipped", "agent_id", c.agentID, "error", err)
		}
		c.unbind()
	}
	c.Close()
	c.logger.Debug("client unregistered", "clients", len(h.clients))
}

func (h *Hub) deliverRemote(f remoteFrame) {
	if changed, ok := f.msg.(protocol.ComponentChanged); ok {
		if _, err := h.changes.Relay(f.agentID, changed.Change); err != nil && !errors.Is(err, model.ErrSessionNotFound) {
			h.logger.Warn("failed to relay change", "agent_id", f.agentID, "error", err)
		}
		return
	}
	h.registry.DeliverRemote(f.agentID, f.msg)
}

func (h *Hub) shutdown() {
	for c := range h.clients {
		c.Close()
	}
	h.clients = make(map[*Client]bool)
}
