package model

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when no live session exists for an agent.
	ErrSessionNotFound = errors.New("session not found")

	// ErrParticipantNotFound is returned when a user is not a member of the session.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrNotJoined is returned when a connection sends a session message before joining.
	ErrNotJoined = errors.New("connection has not joined a session")

	// ErrAgentIDRequired is returned when a join or leave carries no agent id.
	ErrAgentIDRequired = errors.New("agent id is required")

	// ErrUserIDRequired is returned when a message carries no user id.
	ErrUserIDRequired = errors.New("user id is required")

	// ErrUnknownChangeKind is returned for a change kind outside update/create/delete.
	ErrUnknownChangeKind = errors.New("unknown change kind")
)

// ApplicationError wraps a failure raised while handling a valid message.
// It is contained to the message that caused it so one participant cannot
// take the shared session down for everyone else.
type ApplicationError struct {
	AgentID string
	UserID  string
	Type    string
	Err     error
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("handle %s for user %q in agent %q: %v", e.Type, e.UserID, e.AgentID, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}
