package protocol

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/agent-studio/collab/internal/model"
)

// envelope is the union of every field any message type may carry. It is
// only used for decoding; encoding goes through the per-type structs below
// so that each message has exactly its own fields on the wire.
type envelope struct {
	Type          MessageType          `json:"type"`
	UserID        string               `json:"userId"`
	AgentID       string               `json:"agentId"`
	UserName      string               `json:"userName"`
	Username      string               `json:"username"`
	Color         string               `json:"color"`
	Component     json.RawMessage      `json:"component"`
	ComponentID   json.RawMessage      `json:"componentId"`
	Position      json.RawMessage      `json:"position"`
	Users         []model.Participant  `json:"users"`
	RecentChanges []model.ChangeRecord `json:"recentChanges"`
	Change        *model.ChangeRecord  `json:"change"`
}

// DecodeInbound validates a client frame and returns the matching Inbound
// value, or a *ProtocolError.
func DecodeInbound(data []byte) (Inbound, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeJoinSession:
		if env.AgentID == "" {
			return nil, protocolErr(env.Type, "agentId is required")
		}
		name := strings.TrimSpace(env.UserName)
		if name == "" {
			name = strings.TrimSpace(env.Username)
		}
		return JoinSession{AgentID: env.AgentID, UserID: env.UserID, UserName: name}, nil
	case TypeLeaveSession:
		if env.AgentID == "" {
			return nil, protocolErr(env.Type, "agentId is required")
		}
		return LeaveSession{AgentID: env.AgentID, UserID: env.UserID}, nil
	case TypeComponentUpdate, TypeComponentCreate:
		if !isObject(env.Component) {
			return nil, protocolErr(env.Type, "component must be a JSON object")
		}
		if env.Type == TypeComponentCreate {
			return ComponentCreate{UserID: env.UserID, Component: env.Component}, nil
		}
		return ComponentUpdate{UserID: env.UserID, Component: env.Component}, nil
	case TypeComponentDelete:
		if isAbsent(env.ComponentID) {
			return nil, protocolErr(env.Type, "componentId is required")
		}
		return ComponentDelete{UserID: env.UserID, ComponentID: env.ComponentID}, nil
	case TypeCursorUpdate:
		if isAbsent(env.Position) {
			return nil, protocolErr(env.Type, "position is required")
		}
		return CursorUpdate{UserID: env.UserID, Position: env.Position}, nil
	default:
		return nil, protocolErr(env.Type, "unknown message type")
	}
}

// DecodeOutbound validates a hub frame and returns the matching Outbound
// value, or a *ProtocolError.
func DecodeOutbound(data []byte) (Outbound, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeSessionJoined:
		return SessionJoined{
			AgentID:       env.AgentID,
			UserID:        env.UserID,
			Color:         env.Color,
			Users:         env.Users,
			RecentChanges: env.RecentChanges,
		}, nil
	case TypeUserJoined:
		return UserJoined{UserID: env.UserID, Username: env.Username, Color: env.Color}, nil
	case TypeUserLeft:
		return UserLeft{UserID: env.UserID}, nil
	case TypeComponentUpdated, TypeComponentCreated, TypeComponentDeleted:
		if env.Change == nil {
			return nil, protocolErr(env.Type, "change is required")
		}
		change := *env.Change
		kind, _ := ChangeKindFor(env.Type)
		change.Kind = kind
		if change.AuthorUserID == "" {
			change.AuthorUserID = env.UserID
		}
		return ComponentChanged{Change: change}, nil
	case TypeCursorUpdated:
		return CursorUpdated{UserID: env.UserID, Position: env.Position}, nil
	default:
		return nil, protocolErr(env.Type, "unknown message type")
	}
}

func decodeEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Reason: "invalid json", Err: err}
	}
	if env.Type == "" {
		return nil, protocolErr("", "type is required")
	}
	env.UserID = strings.TrimSpace(env.UserID)
	env.AgentID = strings.TrimSpace(env.AgentID)
	if env.UserID == "" {
		return nil, protocolErr(env.Type, "userId is required")
	}
	return &env, nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

type joinSessionFrame struct {
	Type     MessageType `json:"type"`
	AgentID  string      `json:"agentId"`
	UserID   string      `json:"userId"`
	UserName string      `json:"userName"`
}

type leaveSessionFrame struct {
	Type    MessageType `json:"type"`
	AgentID string      `json:"agentId"`
	UserID  string      `json:"userId"`
}

type componentFrame struct {
	Type      MessageType     `json:"type"`
	UserID    string          `json:"userId"`
	Component json.RawMessage `json:"component"`
}

type componentDeleteFrame struct {
	Type        MessageType     `json:"type"`
	UserID      string          `json:"userId"`
	ComponentID json.RawMessage `json:"componentId"`
}

type cursorFrame struct {
	Type     MessageType     `json:"type"`
	UserID   string          `json:"userId"`
	Position json.RawMessage `json:"position"`
}

// EncodeInbound serializes a client message.
func EncodeInbound(m Inbound) ([]byte, error) {
	switch msg := m.(type) {
	case JoinSession:
		return json.Marshal(joinSessionFrame{Type: msg.Type(), AgentID: msg.AgentID, UserID: msg.UserID, UserName: msg.UserName})
	case LeaveSession:
		return json.Marshal(leaveSessionFrame{Type: msg.Type(), AgentID: msg.AgentID, UserID: msg.UserID})
	case ComponentUpdate:
		return json.Marshal(componentFrame{Type: msg.Type(), UserID: msg.UserID, Component: msg.Component})
	case ComponentCreate:
		return json.Marshal(componentFrame{Type: msg.Type(), UserID: msg.UserID, Component: msg.Component})
	case ComponentDelete:
		return json.Marshal(componentDeleteFrame{Type: msg.Type(), UserID: msg.UserID, ComponentID: msg.ComponentID})
	case CursorUpdate:
		return json.Marshal(cursorFrame{Type: msg.Type(), UserID: msg.UserID, Position: orNull(msg.Position)})
	default:
		return nil, protocolErr("", "unsupported inbound message")
	}
}

type sessionJoinedFrame struct {
	Type          MessageType          `json:"type"`
	AgentID       string               `json:"agentId"`
	UserID        string               `json:"userId"`
	Color         string               `json:"color"`
	Users         []model.Participant  `json:"users"`
	RecentChanges []model.ChangeRecord `json:"recentChanges"`
}

type userJoinedFrame struct {
	Type     MessageType `json:"type"`
	UserID   string      `json:"userId"`
	Username string      `json:"username"`
	Color    string      `json:"color"`
}

type userLeftFrame struct {
	Type   MessageType `json:"type"`
	UserID string      `json:"userId"`
}

type componentChangedFrame struct {
	Type   MessageType        `json:"type"`
	UserID string             `json:"userId"`
	Change model.ChangeRecord `json:"change"`
}

type cursorUpdatedFrame struct {
	Type     MessageType     `json:"type"`
	UserID   string          `json:"userId"`
	Position json.RawMessage `json:"position"`
}

// EncodeOutbound serializes a hub message.
func EncodeOutbound(m Outbound) ([]byte, error) {
	switch msg := m.(type) {
	case SessionJoined:
		users := msg.Users
		if users == nil {
			users = []model.Participant{}
		}
		changes := msg.RecentChanges
		if changes == nil {
			changes = []model.ChangeRecord{}
		}
		return json.Marshal(sessionJoinedFrame{
			Type:          msg.Type(),
			AgentID:       msg.AgentID,
			UserID:        msg.UserID,
			Color:         msg.Color,
			Users:         users,
			RecentChanges: changes,
		})
	case UserJoined:
		return json.Marshal(userJoinedFrame{Type: msg.Type(), UserID: msg.UserID, Username: msg.Username, Color: msg.Color})
	case UserLeft:
		return json.Marshal(userLeftFrame{Type: msg.Type(), UserID: msg.UserID})
	case ComponentChanged:
		change := msg.Change
		change.Payload = orNull(change.Payload)
		return json.Marshal(componentChangedFrame{Type: msg.Type(), UserID: change.AuthorUserID, Change: change})
	case CursorUpdated:
		return json.Marshal(cursorUpdatedFrame{Type: msg.Type(), UserID: msg.UserID, Position: orNull(msg.Position)})
	default:
		return nil, protocolErr("", "unsupported outbound message")
	}
}

// orNull keeps json.Marshal from failing on an empty RawMessage.
func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
