package model

import (
	"encoding/json"
	"time"
)

// ChangeKind identifies the component mutation a change record describes.
type ChangeKind string

const (
	ChangeKindUpdate ChangeKind = "update"
	ChangeKindCreate ChangeKind = "create"
	ChangeKindDelete ChangeKind = "delete"
)

// Valid reports whether k is one of the known change kinds.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeKindUpdate, ChangeKindCreate, ChangeKindDelete:
		return true
	default:
		return false
	}
}

// ChangeRecord is one entry in a session's change log. It is immutable once
// appended; Sequence orders the log and is never used to resolve conflicts.
type ChangeRecord struct {
	ID           string          `json:"id"`
	Kind         ChangeKind      `json:"kind"`
	Payload      json.RawMessage `json:"data"`
	AuthorUserID string          `json:"userId"`
	Sequence     int64           `json:"sequence"`
	Timestamp    time.Time       `json:"timestamp"`
}
