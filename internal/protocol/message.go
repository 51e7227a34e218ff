package protocol

import (
	"encoding/json"

	"github.com/agent-studio/collab/internal/model"
)

// MessageType represents the type of a collaboration message.
type MessageType string

const (
	// Client -> Server message types
	TypeJoinSession     MessageType = "join_session"
	TypeLeaveSession    MessageType = "leave_session"
	TypeComponentUpdate MessageType = "component_update"
	TypeComponentCreate MessageType = "component_create"
	TypeComponentDelete MessageType = "component_delete"
	TypeCursorUpdate    MessageType = "cursor_update"

	// Server -> Client message types
	TypeSessionJoined    MessageType = "session_joined"
	TypeUserJoined       MessageType = "user_joined"
	TypeUserLeft         MessageType = "user_left"
	TypeComponentUpdated MessageType = "component_updated"
	TypeComponentCreated MessageType = "component_created"
	TypeComponentDeleted MessageType = "component_deleted"
	TypeCursorUpdated    MessageType = "cursor_updated"
)

// Inbound is a message sent by a client. The implementations in this
// package are the only ones; switch on them exhaustively.
type Inbound interface {
	Type() MessageType
	Sender() string
	inbound()
}

// JoinSession asks to join the session of an agent.
type JoinSession struct {
	AgentID  string
	UserID   string
	UserName string
}

// LeaveSession leaves the session of an agent.
type LeaveSession struct {
	AgentID string
	UserID  string
}

// ComponentUpdate replaces a component (last writer wins).
type ComponentUpdate struct {
	UserID    string
	Component json.RawMessage
}

// ComponentCreate adds a component.
type ComponentCreate struct {
	UserID    string
	Component json.RawMessage
}

// ComponentDelete removes a component by id.
type ComponentDelete struct {
	UserID      string
	ComponentID json.RawMessage
}

// CursorUpdate moves the sender's cursor.
type CursorUpdate struct {
	UserID   string
	Position json.RawMessage
}

func (JoinSession) Type() MessageType     { return TypeJoinSession }
func (LeaveSession) Type() MessageType    { return TypeLeaveSession }
func (ComponentUpdate) Type() MessageType { return TypeComponentUpdate }
func (ComponentCreate) Type() MessageType { return TypeComponentCreate }
func (ComponentDelete) Type() MessageType { return TypeComponentDelete }
func (CursorUpdate) Type() MessageType    { return TypeCursorUpdate }

func (m JoinSession) Sender() string     { return m.UserID }
func (m LeaveSession) Sender() string    { return m.UserID }
func (m ComponentUpdate) Sender() string { return m.UserID }
func (m ComponentCreate) Sender() string { return m.UserID }
func (m ComponentDelete) Sender() string { return m.UserID }
func (m CursorUpdate) Sender() string    { return m.UserID }

func (JoinSession) inbound()     {}
func (LeaveSession) inbound()    {}
func (ComponentUpdate) inbound() {}
func (ComponentCreate) inbound() {}
func (ComponentDelete) inbound() {}
func (CursorUpdate) inbound()    {}

// Outbound is a message sent by the hub. The implementations in this
// package are the only ones.
type Outbound interface {
	Type() MessageType
	Subject() string
	outbound()
}

// SessionJoined answers a join with the other participants and the recent
// change log.
type SessionJoined struct {
	AgentID       string
	UserID        string
	Color         string
	Users         []model.Participant
	RecentChanges []model.ChangeRecord
}

// UserJoined announces a new participant.
type UserJoined struct {
	UserID   string
	Username string
	Color    string
}

// UserLeft announces a participant leaving or disconnecting.
type UserLeft struct {
	UserID string
}

// ComponentChanged carries one change record. Its type follows the record kind.
type ComponentChanged struct {
	Change model.ChangeRecord
}

// CursorUpdated carries another participant's cursor position.
type CursorUpdated struct {
	UserID   string
	Position json.RawMessage
}

func (SessionJoined) Type() MessageType { return TypeSessionJoined }
func (UserJoined) Type() MessageType    { return TypeUserJoined }
func (UserLeft) Type() MessageType      { return TypeUserLeft }
func (CursorUpdated) Type() MessageType { return TypeCursorUpdated }

// Type maps the change kind onto its outbound message type.
func (m ComponentChanged) Type() MessageType {
	switch m.Change.Kind {
	case model.ChangeKindCreate:
		return TypeComponentCreated
	case model.ChangeKindDelete:
		return TypeComponentDeleted
	default:
		return TypeComponentUpdated
	}
}

// Subject is the user the message is about. Clients drop messages whose
// subject is themselves.
func (m SessionJoined) Subject() string    { return m.UserID }
func (m UserJoined) Subject() string       { return m.UserID }
func (m UserLeft) Subject() string         { return m.UserID }
func (m ComponentChanged) Subject() string { return m.Change.AuthorUserID }
func (m CursorUpdated) Subject() string    { return m.UserID }

func (SessionJoined) outbound()    {}
func (UserJoined) outbound()       {}
func (UserLeft) outbound()         {}
func (ComponentChanged) outbound() {}
func (CursorUpdated) outbound()    {}

// ChangeKindFor maps a component message type onto its change kind.
func ChangeKindFor(t MessageType) (model.ChangeKind, bool) {
	switch t {
	case TypeComponentUpdate, TypeComponentUpdated:
		return model.ChangeKindUpdate, true
	case TypeComponentCreate, TypeComponentCreated:
		return model.ChangeKindCreate, true
	case TypeComponentDelete, TypeComponentDeleted:
		return model.ChangeKindDelete, true
	default:
		return "", false
	}
}
