package session

import (
	"encoding/json"
	"fmt"

	"github.com/agent-studio/collab/internal/model"
	"github.com/agent-studio/collab/internal/protocol"
)

// Broadcaster appends change records to a session's bounded log and fans
// them out to every participant except the author.
//
// Conflicts are last-writer-wins: records are never merged, transformed or
// rejected for being stale. Sequence numbers only order the log.
type Broadcaster struct {
	registry *Registry
}

// NewBroadcaster creates a change broadcaster over registry.
func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// Record stamps a change with the next sequence number and the server time,
// appends it to the session log and sends it to everyone but the author.
func (b *Broadcaster) Record(agentID, userID string, kind model.ChangeKind, payload json.RawMessage) (model.ChangeRecord, error) {
	if !kind.Valid() {
		return model.ChangeRecord{}, fmt.Errorf("%w: %q", model.ErrUnknownChangeKind, kind)
	}
	s, _, err := b.registry.lookup(agentID, userID)
	if err != nil {
		return model.ChangeRecord{}, err
	}

	rec := model.ChangeRecord{
		ID:           b.registry.cfg.NewID(),
		Kind:         kind,
		Payload:      append(json.RawMessage(nil), payload...),
		AuthorUserID: userID,
	}
	rec = b.append(s, rec)
	b.registry.broadcast(s, userID, protocol.ComponentChanged{Change: rec})
	return rec, nil
}

// Relay appends a change recorded by another process to the local log with
// a local sequence number and delivers it to the local participants except
// the author. The remote timestamp and id are kept.
func (b *Broadcaster) Relay(agentID string, rec model.ChangeRecord) (model.ChangeRecord, error) {
	if !rec.Kind.Valid() {
		return model.ChangeRecord{}, fmt.Errorf("%w: %q", model.ErrUnknownChangeKind, rec.Kind)
	}
	s, ok := b.registry.sessions[agentID]
	if !ok {
		return model.ChangeRecord{}, model.ErrSessionNotFound
	}

	rec = b.append(s, rec)
	s.fanOut(rec.AuthorUserID, protocol.ComponentChanged{Change: rec})
	return rec, nil
}

// Recent returns the session's change log, oldest first. It reports false
// when agentID has no live session.
func (b *Broadcaster) Recent(agentID string) ([]model.ChangeRecord, bool) {
	s, ok := b.registry.sessions[agentID]
	if !ok {
		return nil, false
	}
	return b.registry.recent(s, b.registry.cfg.Now()), true
}

func (b *Broadcaster) append(s *Session, rec model.ChangeRecord) model.ChangeRecord {
	now := b.registry.cfg.Now()
	s.lastSeq++
	rec.Sequence = s.lastSeq
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now.UTC()
	}
	s.log.Push(rec)
	b.registry.pruneLog(s, now)

	b.registry.activity(model.ActivityEvent{
		AgentID:    s.AgentID,
		UserID:     rec.AuthorUserID,
		Kind:       model.ActivityChangeRecorded,
		ChangeKind: rec.Kind,
		Sequence:   rec.Sequence,
		At:         now,
	})
	return rec
}

// DeletePayload builds the change payload for a component deletion.
func DeletePayload(componentID json.RawMessage) json.RawMessage {
	data, err := json.Marshal(struct {
		ID json.RawMessage `json:"id"`
	}{ID: componentID})
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}
