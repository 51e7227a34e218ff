package syncclient

import (
	"encoding/json"
	"fmt"

	"github.com/agent-studio/collab/internal/model"
)

// Re-export types from internal/model for external use
type (
	Participant = model.Participant
	Change      = model.ChangeRecord
	ChangeKind  = model.ChangeKind
)

const (
	ChangeKindUpdate = model.ChangeKindUpdate
	ChangeKindCreate = model.ChangeKindCreate
	ChangeKindDelete = model.ChangeKindDelete
)

// State is the lifecycle state of a client connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateJoined
	StateActive
	StateLeft
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateLeft:
		return "left"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateLeft || s == StateClosed
}

// Snapshot is what the server sends when the join handshake completes.
type Snapshot struct {
	AgentID       string
	Color         string
	Users         []Participant
	RecentChanges []Change
}

// Handlers are the callbacks a client invokes for events from other
// participants. Every field is optional. Callbacks run on the client's
// read goroutine, one at a time.
type Handlers struct {
	OnSessionJoined    func(Snapshot)
	OnUserJoined       func(Participant)
	OnUserLeft         func(userID string)
	OnCursorUpdated    func(userID string, position json.RawMessage)
	OnComponentUpdated func(Change)
	OnComponentCreated func(Change)
	OnComponentDeleted func(Change)
	OnError            func(error)
}

// ConnectionError reports a transport failure. The client is closed once
// one is reported.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("collab connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
