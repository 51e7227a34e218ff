package session

import (
	"encoding/json"

	"github.com/agent-studio/collab/internal/protocol"
)

// Presence tracks ephemeral cursor positions on registry participants.
// Positions are never written to the change log and vanish with the
// participant.
type Presence struct {
	registry *Registry
}

// NewPresence creates a presence tracker over registry.
func NewPresence(registry *Registry) *Presence {
	return &Presence{registry: registry}
}

// UpdateCursor stores userID's position in place and sends cursor_updated to
// every other participant.
func (p *Presence) UpdateCursor(agentID, userID string, position json.RawMessage) error {
	s, m, err := p.registry.lookup(agentID, userID)
	if err != nil {
		return err
	}

	m.CursorPosition = append(json.RawMessage(nil), position...)
	p.registry.broadcast(s, userID, protocol.CursorUpdated{UserID: userID, Position: m.CursorPosition})
	return nil
}
