package model

import (
	"encoding/json"
	"time"
)

// Participant is one user's live membership in a collaboration session.
type Participant struct {
	UserID         string          `json:"userId"`
	Username       string          `json:"username"`
	Color          string          `json:"color"`
	CursorPosition json.RawMessage `json:"cursorPosition,omitempty"`
	JoinedAt       time.Time       `json:"joinedAt"`
}

// Clone returns a copy that shares no mutable state with p.
func (p Participant) Clone() Participant {
	if p.CursorPosition != nil {
		p.CursorPosition = append(json.RawMessage(nil), p.CursorPosition...)
	}
	return p
}
