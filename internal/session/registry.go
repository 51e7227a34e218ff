package session

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agent-studio/collab/internal/buffer"
	"github.com/agent-studio/collab/internal/model"
	"github.com/agent-studio/collab/internal/protocol"
)

// Peer is the delivery handle of one participant's connection.
type Peer interface {
	Deliver(msg protocol.Outbound)
}

// DefaultPalette is the fixed set of participant colors handed out in order.
var DefaultPalette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4", "#42d4f4",
	"#f032e6", "#bfef45", "#469990", "#9a6324", "#800000", "#000075",
}

const (
	DefaultMaxRecentChanges = 100
	DefaultMaxChangeAge     = 10 * time.Minute
	DefaultGracePeriod      = 30 * time.Second
)

// Config holds configuration for the registry.
type Config struct {
	// MaxRecentChanges bounds each session's change log by count.
	MaxRecentChanges int
	// MaxChangeAge bounds each session's change log by age. Zero disables it.
	MaxChangeAge time.Duration
	// GracePeriod keeps an empty session (and its log) around for rejoiners.
	// Zero or negative tears the session down as soon as it empties.
	GracePeriod time.Duration
	Palette     []string

	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger

	// OnBroadcast is called for every locally originated fan-out.
	OnBroadcast func(agentID string, msg protocol.Outbound)
	// OnActivity is called for every lifecycle event worth journaling.
	OnActivity func(event model.ActivityEvent)
}

// Session is the live state of one agent being edited.
type Session struct {
	AgentID string

	members   map[string]*member
	order     []string
	log       *buffer.Ring[model.ChangeRecord]
	lastSeq   int64
	createdAt time.Time
	emptiedAt time.Time
}

type member struct {
	model.Participant
	peer Peer
}

// SessionInfo is a read-only snapshot of a session.
type SessionInfo struct {
	AgentID      string              `json:"agentId"`
	Participants []model.Participant `json:"participants"`
	LastSequence int64               `json:"lastSequence"`
	ChangeCount  int                 `json:"changeCount"`
	CreatedAt    time.Time           `json:"createdAt"`
	EmptySince   *time.Time          `json:"emptySince,omitempty"`
}

// JoinResult describes the outcome of a join.
type JoinResult struct {
	Participant model.Participant
	// Rejoin is true when the user already had an entry in the session.
	Rejoin bool
	// Replaced is the previous connection of a rejoining user, if it differs
	// from the joining one. The caller detaches it.
	Replaced Peer
}

// Registry maps agent ids to their sessions. It is not safe for concurrent
// use; see the package documentation.
type Registry struct {
	cfg      Config
	sessions map[string]*Session
}

// NewRegistry creates a new registry, applying defaults to zero config values.
func NewRegistry(cfg Config) *Registry {
	if cfg.MaxRecentChanges <= 0 {
		cfg.MaxRecentChanges = DefaultMaxRecentChanges
	}
	if len(cfg.Palette) == 0 {
		cfg.Palette = DefaultPalette
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Join adds userID to the session of agentID, creating the session on first
// join. A user that is already present is re-pointed to peer in place and
// keeps its color. The joiner receives session_joined with the other
// participants and the recent change log; everyone else receives user_joined.
func (r *Registry) Join(agentID, userID, username string, peer Peer) (JoinResult, error) {
	agentID = strings.TrimSpace(agentID)
	userID = strings.TrimSpace(userID)
	if agentID == "" {
		return JoinResult{}, model.ErrAgentIDRequired
	}
	if userID == "" {
		return JoinResult{}, model.ErrUserIDRequired
	}
	if username == "" {
		username = userID
	}

	now := r.cfg.Now()
	s, ok := r.sessions[agentID]
	if !ok {
		s = &Session{
			AgentID:   agentID,
			members:   make(map[string]*member),
			log:       buffer.NewRing[model.ChangeRecord](r.cfg.MaxRecentChanges),
			createdAt: now,
		}
		r.sessions[agentID] = s
		r.activity(model.ActivityEvent{AgentID: agentID, Kind: model.ActivitySessionOpened, At: now})
	}
	s.emptiedAt = time.Time{}

	var result JoinResult
	m, exists := s.members[userID]
	if exists {
		result.Rejoin = true
		if m.peer != peer {
			result.Replaced = m.peer
		}
		m.peer = peer
		m.Username = username
		m.CursorPosition = nil
	} else {
		m = &member{
			Participant: model.Participant{
				UserID:   userID,
				Username: username,
				Color:    s.pickColor(r.cfg.Palette, userID),
				JoinedAt: now,
			},
			peer: peer,
		}
		s.members[userID] = m
		s.order = append(s.order, userID)
	}
	result.Participant = m.Participant.Clone()

	if peer != nil {
		peer.Deliver(protocol.SessionJoined{
			AgentID:       agentID,
			UserID:        userID,
			Color:         m.Color,
			Users:         s.participantsExcept(userID),
			RecentChanges: r.recent(s, now),
		})
	}
	r.broadcast(s, userID, protocol.UserJoined{UserID: userID, Username: m.Username, Color: m.Color})
	r.activity(model.ActivityEvent{AgentID: agentID, UserID: userID, Kind: model.ActivityParticipantJoined, At: now})

	r.cfg.Logger.Info("participant joined",
		"agent_id", agentID, "user_id", userID, "rejoin", result.Rejoin, "participants", len(s.members))
	return result, nil
}

// Leave removes userID from the session of agentID and tells the remaining
// participants. When peer is non-nil the entry is only removed if it still
// belongs to that connection, so a stale connection closing after its user
// rejoined elsewhere removes nothing.
func (r *Registry) Leave(agentID, userID string, peer Peer) error {
	s, ok := r.sessions[agentID]
	if !ok {
		return model.ErrSessionNotFound
	}
	m, ok := s.members[userID]
	if !ok {
		return model.ErrParticipantNotFound
	}
	if peer != nil && m.peer != peer {
		return fmt.Errorf("stale connection for %q: %w", userID, model.ErrParticipantNotFound)
	}

	delete(s.members, userID)
	for i, id := range s.order {
		if id == userID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	now := r.cfg.Now()
	r.broadcast(s, userID, protocol.UserLeft{UserID: userID})
	r.activity(model.ActivityEvent{AgentID: agentID, UserID: userID, Kind: model.ActivityParticipantLeft, At: now})
	r.cfg.Logger.Info("participant left", "agent_id", agentID, "user_id", userID, "participants", len(s.members))

	if len(s.members) == 0 {
		if r.cfg.GracePeriod <= 0 {
			r.closeSession(s, now)
		} else {
			s.emptiedAt = now
		}
	}
	return nil
}

// Sweep tears down sessions that have been empty for longer than the grace
// period and prunes aged change records. It returns the closed agent ids.
func (r *Registry) Sweep() []string {
	now := r.cfg.Now()
	var closed []string
	for agentID, s := range r.sessions {
		if len(s.members) == 0 && !s.emptiedAt.IsZero() && now.Sub(s.emptiedAt) >= r.cfg.GracePeriod {
			r.closeSession(s, now)
			closed = append(closed, agentID)
			continue
		}
		r.pruneLog(s, now)
	}
	return closed
}

// DeliverRemote fans a message received from another process out to the
// local participants of agentID, skipping the message subject. Nothing is
// delivered when the agent has no local session.
func (r *Registry) DeliverRemote(agentID string, msg protocol.Outbound) int {
	s, ok := r.sessions[agentID]
	if !ok {
		return 0
	}
	return s.fanOut(msg.Subject(), msg)
}

// ParticipantCount returns the number of participants in agentID's session.
func (r *Registry) ParticipantCount(agentID string) int {
	s, ok := r.sessions[agentID]
	if !ok {
		return 0
	}
	return len(s.members)
}

// Participant returns a copy of one participant entry.
func (r *Registry) Participant(agentID, userID string) (model.Participant, bool) {
	s, ok := r.sessions[agentID]
	if !ok {
		return model.Participant{}, false
	}
	m, ok := s.members[userID]
	if !ok {
		return model.Participant{}, false
	}
	return m.Participant.Clone(), true
}

// Snapshot returns a copy of one session.
func (r *Registry) Snapshot(agentID string) (SessionInfo, bool) {
	s, ok := r.sessions[agentID]
	if !ok {
		return SessionInfo{}, false
	}
	return s.info(), true
}

// Sessions returns snapshots of every live session.
func (r *Registry) Sessions() []SessionInfo {
	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.info())
	}
	return infos
}

// lookup returns the session and member for a participant's message.
func (r *Registry) lookup(agentID, userID string) (*Session, *member, error) {
	s, ok := r.sessions[agentID]
	if !ok {
		return nil, nil, model.ErrSessionNotFound
	}
	m, ok := s.members[userID]
	if !ok {
		return nil, nil, model.ErrParticipantNotFound
	}
	return s, m, nil
}

// broadcast fans a locally originated message out and hands it to the relay hook.
func (r *Registry) broadcast(s *Session, except string, msg protocol.Outbound) {
	s.fanOut(except, msg)
	if r.cfg.OnBroadcast != nil {
		r.cfg.OnBroadcast(s.AgentID, msg)
	}
}

func (r *Registry) activity(event model.ActivityEvent) {
	if r.cfg.OnActivity != nil {
		r.cfg.OnActivity(event)
	}
}

func (r *Registry) pruneLog(s *Session, now time.Time) {
	if r.cfg.MaxChangeAge <= 0 {
		return
	}
	cutoff := now.Add(-r.cfg.MaxChangeAge)
	s.log.DropWhile(func(rec model.ChangeRecord) bool {
		return rec.Timestamp.Before(cutoff)
	})
}

// recent prunes the log of s and returns what is left, oldest first.
func (r *Registry) recent(s *Session, now time.Time) []model.ChangeRecord {
	r.pruneLog(s, now)
	return s.log.Items()
}

func (r *Registry) closeSession(s *Session, now time.Time) {
	delete(r.sessions, s.AgentID)
	s.log.Clear()
	r.activity(model.ActivityEvent{AgentID: s.AgentID, Kind: model.ActivitySessionClosed, At: now})
	r.cfg.Logger.Info("session closed", "agent_id", s.AgentID)
}

// fanOut delivers msg to every participant except the one named by except,
// in join order, and returns how many were reached.
func (s *Session) fanOut(except string, msg protocol.Outbound) int {
	delivered := 0
	for _, userID := range s.order {
		if userID == except {
			continue
		}
		m := s.members[userID]
		if m.peer == nil {
			continue
		}
		m.peer.Deliver(msg)
		delivered++
	}
	return delivered
}

func (s *Session) participantsExcept(userID string) []model.Participant {
	users := make([]model.Participant, 0, len(s.members))
	for _, id := range s.order {
		if id == userID {
			continue
		}
		users = append(users, s.members[id].Participant.Clone())
	}
	return users
}

func (s *Session) info() SessionInfo {
	info := SessionInfo{
		AgentID:      s.AgentID,
		Participants: s.participantsExcept(""),
		LastSequence: s.lastSeq,
		ChangeCount:  s.log.Len(),
		CreatedAt:    s.createdAt,
	}
	if !s.emptiedAt.IsZero() {
		emptied := s.emptiedAt
		info.EmptySince = &emptied
	}
	return info
}

// pickColor returns the first palette color not held by a current occupant.
// Past the palette it derives colors from the user id until one is free.
func (s *Session) pickColor(palette []string, userID string) string {
	used := make(map[string]bool, len(s.members))
	for _, m := range s.members {
		used[m.Color] = true
	}
	for _, c := range palette {
		if !used[c] {
			return c
		}
	}

	h := fnv.New32a()
	h.Write([]byte(userID))
	seed := h.Sum32()
	for i := uint32(0); ; i++ {
		c := fmt.Sprintf("#%06x", (seed+i*0x9e3779)&0xffffff)
		if !used[c] {
			return c
		}
	}
}
