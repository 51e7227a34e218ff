package ws

import (
	"context"
	"log/slog"
	"sort"

	"github.com/agent-studio/collab/internal/model"
	"github.com/agent-studio/collab/internal/protocol"
	"github.com/agent-studio/collab/internal/session"
)

// Config holds configuration for the WebSocket service.
type Config struct {
	Hub     HubConfig
	Handler HandlerOptions
	Logger  *slog.Logger
}

// Service wires the hub to the HTTP handler and answers read-only
// questions about live sessions.
type Service struct {
	hub     *Hub
	handler *Handler
}

// NewService creates a new WebSocket service. Call Run to start the hub.
func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Hub.Logger == nil {
		cfg.Hub.Logger = cfg.Logger
	}
	if cfg.Handler.Logger == nil {
		cfg.Handler.Logger = cfg.Logger
	}

	hub := NewHub(cfg.Hub)
	return &Service{
		hub:     hub,
		handler: NewHandler(hub, cfg.Handler),
	}
}

// Run runs the hub until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.hub.Run(ctx)
}

// Handler returns the WebSocket handler.
func (s *Service) Handler() *Handler {
	return s.handler
}

// Hub returns the hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

// DeliverRemote hands a message published by another process to the hub.
func (s *Service) DeliverRemote(agentID string, msg protocol.Outbound) {
	s.hub.DeliverRemote(agentID, msg)
}

// Sessions returns snapshots of all live sessions ordered by agent id.
func (s *Service) Sessions(ctx context.Context) ([]session.SessionInfo, error) {
	var infos []session.SessionInfo
	err := s.hub.Query(ctx, func(r *session.Registry) {
		infos = r.Sessions()
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].AgentID < infos[j].AgentID })
	return infos, nil
}

// Session returns a snapshot of one live session.
func (s *Service) Session(ctx context.Context, agentID string) (session.SessionInfo, bool, error) {
	var (
		info session.SessionInfo
		ok   bool
	)
	err := s.hub.Query(ctx, func(r *session.Registry) {
		info, ok = r.Snapshot(agentID)
	})
	return info, ok, err
}

// Changes returns the recent change log of agentID's session.
func (s *Service) Changes(ctx context.Context, agentID string) ([]model.ChangeRecord, bool, error) {
	return s.hub.RecentChanges(ctx, agentID)
}

// ParticipantCount returns the number of participants in agentID's session.
func (s *Service) ParticipantCount(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.hub.Query(ctx, func(r *session.Registry) {
		n = r.ParticipantCount(agentID)
	})
	return n, err
}
