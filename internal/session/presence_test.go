package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-studio/collab/internal/model"
	"github.com/agent-studio/collab/internal/protocol"
)

func TestPresence_UpdateCursor(t *testing.T) {
	reg := newTestRegistry(newClock())
	presence := NewPresence(reg)
	u1 := &recordingPeer{}
	u2 := &recordingPeer{}
	_, _ = reg.Join("agent", "u1", "", u1)
	_, _ = reg.Join("agent", "u2", "", u2)
	u1.reset()
	u2.reset()

	require.NoError(t, presence.UpdateCursor("agent", "u1", json.RawMessage(`{"x":1,"y":2}`)))

	assert.Empty(t, u1.messages, "cursor updates are not echoed")
	require.Len(t, u2.messages, 1)
	cursor := u2.messages[0].(protocol.CursorUpdated)
	assert.Equal(t, "u1", cursor.UserID)
	assert.JSONEq(t, `{"x":1,"y":2}`, string(cursor.Position))

	p, ok := reg.Participant("agent", "u1")
	require.True(t, ok)
	assert.JSONEq(t, `{"x":1,"y":2}`, string(p.CursorPosition))

	// Presence never enters the change log.
	recent, ok := NewBroadcaster(reg).Recent("agent")
	require.True(t, ok)
	assert.Empty(t, recent)
}

func TestPresence_LostOnRejoin(t *testing.T) {
	reg := newTestRegistry(newClock())
	presence := NewPresence(reg)
	_, _ = reg.Join("agent", "u1", "", &recordingPeer{})
	require.NoError(t, presence.UpdateCursor("agent", "u1", json.RawMessage(`5`)))

	_, _ = reg.Join("agent", "u1", "", &recordingPeer{})
	p, ok := reg.Participant("agent", "u1")
	require.True(t, ok)
	assert.Nil(t, p.CursorPosition)
}

func TestPresence_UnknownParticipant(t *testing.T) {
	reg := newTestRegistry(newClock())
	presence := NewPresence(reg)

	assert.ErrorIs(t, presence.UpdateCursor("agent", "u1", json.RawMessage(`1`)), model.ErrSessionNotFound)

	_, _ = reg.Join("agent", "u1", "", &recordingPeer{})
	assert.ErrorIs(t, presence.UpdateCursor("agent", "ghost", json.RawMessage(`1`)), model.ErrParticipantNotFound)
}

func TestPresence_SnapshotCarriesCursor(t *testing.T) {
	reg := newTestRegistry(newClock())
	presence := NewPresence(reg)
	_, _ = reg.Join("agent", "u1", "", &recordingPeer{})
	require.NoError(t, presence.UpdateCursor("agent", "u1", json.RawMessage(`{"line":4}`)))

	late := &recordingPeer{}
	_, _ = reg.Join("agent", "u2", "", late)
	joined := late.last().(protocol.SessionJoined)
	require.Len(t, joined.Users, 1)
	assert.JSONEq(t, `{"line":4}`, string(joined.Users[0].CursorPosition))
}
