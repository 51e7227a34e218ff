package model

import "time"

// ActivityKind names a lifecycle event written to the activity journal.
type ActivityKind string

const (
	ActivitySessionOpened     ActivityKind = "session_opened"
	ActivityParticipantJoined ActivityKind = "participant_joined"
	ActivityParticipantLeft   ActivityKind = "participant_left"
	ActivityChangeRecorded    ActivityKind = "change_recorded"
	ActivitySessionClosed     ActivityKind = "session_closed"
)

// ActivityEvent is journal metadata about a session. Change payloads are
// never part of it.
type ActivityEvent struct {
	ID         int64        `json:"id,omitempty"`
	AgentID    string       `json:"agentId"`
	UserID     string       `json:"userId,omitempty"`
	Kind       ActivityKind `json:"kind"`
	ChangeKind ChangeKind   `json:"changeKind,omitempty"`
	Sequence   int64        `json:"sequence,omitempty"`
	At         time.Time    `json:"at"`
}
