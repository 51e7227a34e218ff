package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-studio/collab/internal/model"
)

func TestDecodeInbound(t *testing.T) {
	t.Run("join session", func(t *testing.T) {
		msg, err := DecodeInbound([]byte(`{"type":"join_session","agentId":"agent-42","userId":"u1","userName":"Ada"}`))
		require.NoError(t, err)
		assert.Equal(t, JoinSession{AgentID: "agent-42", UserID: "u1", UserName: "Ada"}, msg)
	})

	t.Run("join session accepts lowercase username", func(t *testing.T) {
		msg, err := DecodeInbound([]byte(`{"type":"join_session","agentId":"agent-42","userId":"u1","username":"Ada"}`))
		require.NoError(t, err)
		assert.Equal(t, "Ada", msg.(JoinSession).UserName)
	})

	t.Run("leave session", func(t *testing.T) {
		msg, err := DecodeInbound([]byte(`{"type":"leave_session","agentId":"agent-42","userId":"u1"}`))
		require.NoError(t, err)
		assert.Equal(t, LeaveSession{AgentID: "agent-42", UserID: "u1"}, msg)
	})

	t.Run("component update keeps payload verbatim", func(t *testing.T) {
		msg, err := DecodeInbound([]byte(`{"type":"component_update","userId":"u1","component":{"id":7,"name":"Rule A"}}`))
		require.NoError(t, err)
		update, ok := msg.(ComponentUpdate)
		require.True(t, ok)
		assert.JSONEq(t, `{"id":7,"name":"Rule A"}`, string(update.Component))
	})

	t.Run("component create", func(t *testing.T) {
		msg, err := DecodeInbound([]byte(`{"type":"component_create","userId":"u1","component":{"id":8}}`))
		require.NoError(t, err)
		assert.IsType(t, ComponentCreate{}, msg)
	})

	t.Run("component delete", func(t *testing.T) {
		msg, err := DecodeInbound([]byte(`{"type":"component_delete","userId":"u1","componentId":7}`))
		require.NoError(t, err)
		assert.Equal(t, "7", string(msg.(ComponentDelete).ComponentID))
	})

	t.Run("cursor update", func(t *testing.T) {
		msg, err := DecodeInbound([]byte(`{"type":"cursor_update","userId":"u1","position":{"x":10,"y":20}}`))
		require.NoError(t, err)
		assert.Equal(t, "u1", msg.Sender())
		assert.Equal(t, TypeCursorUpdate, msg.Type())
	})
}

func TestDecodeInbound_ProtocolErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{"type":`},
		{"not an object", `[1,2,3]`},
		{"missing type", `{"userId":"u1"}`},
		{"unknown type", `{"type":"launch_missiles","userId":"u1"}`},
		{"outbound type sent inbound", `{"type":"user_joined","userId":"u1"}`},
		{"missing user id", `{"type":"join_session","agentId":"a"}`},
		{"blank user id", `{"type":"join_session","agentId":"a","userId":"  "}`},
		{"join without agent", `{"type":"join_session","userId":"u1"}`},
		{"leave without agent", `{"type":"leave_session","userId":"u1"}`},
		{"update without component", `{"type":"component_update","userId":"u1"}`},
		{"update with scalar component", `{"type":"component_update","userId":"u1","component":5}`},
		{"create with null component", `{"type":"component_create","userId":"u1","component":null}`},
		{"delete without id", `{"type":"component_delete","userId":"u1"}`},
		{"cursor without position", `{"type":"cursor_update","userId":"u1"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := DecodeInbound([]byte(tc.raw))
			assert.Nil(t, msg)
			var perr *ProtocolError
			require.True(t, errors.As(err, &perr), "expected ProtocolError, got %v", err)
			assert.NotEmpty(t, perr.Reason)
		})
	}
}

func TestEncodeOutbound(t *testing.T) {
	t.Run("session joined always carries arrays", func(t *testing.T) {
		data, err := EncodeOutbound(SessionJoined{AgentID: "agent-42", UserID: "u1", Color: "#e6194b"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"session_joined","agentId":"agent-42","userId":"u1","color":"#e6194b","users":[],"recentChanges":[]}`, string(data))
	})

	t.Run("component changed follows kind", func(t *testing.T) {
		ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		for kind, want := range map[model.ChangeKind]MessageType{
			model.ChangeKindUpdate: TypeComponentUpdated,
			model.ChangeKindCreate: TypeComponentCreated,
			model.ChangeKindDelete: TypeComponentDeleted,
		} {
			data, err := EncodeOutbound(ComponentChanged{Change: model.ChangeRecord{
				ID:           "c1",
				Kind:         kind,
				Payload:      json.RawMessage(`{"id":7}`),
				AuthorUserID: "u1",
				Sequence:     3,
				Timestamp:    ts,
			}})
			require.NoError(t, err)

			var frame map[string]any
			require.NoError(t, json.Unmarshal(data, &frame))
			assert.Equal(t, string(want), frame["type"])
			assert.Equal(t, "u1", frame["userId"])
			change := frame["change"].(map[string]any)
			assert.Equal(t, "c1", change["id"])
			assert.Equal(t, "u1", change["userId"])
			assert.Equal(t, map[string]any{"id": float64(7)}, change["data"])
			assert.Equal(t, "2026-01-02T03:04:05Z", change["timestamp"])
		}
	})

	t.Run("user joined uses username key", func(t *testing.T) {
		data, err := EncodeOutbound(UserJoined{UserID: "u2", Username: "Grace", Color: "#3cb44b"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"user_joined","userId":"u2","username":"Grace","color":"#3cb44b"}`, string(data))
	})
}

func TestOutboundRoundTrip(t *testing.T) {
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	joined := SessionJoined{
		AgentID: "agent-42",
		UserID:  "u2",
		Color:   "#3cb44b",
		Users:   []model.Participant{{UserID: "u1", Username: "Ada", Color: "#e6194b"}},
		RecentChanges: []model.ChangeRecord{{
			ID: "c1", Kind: model.ChangeKindCreate, Payload: json.RawMessage(`{"id":1}`),
			AuthorUserID: "u1", Sequence: 1, Timestamp: ts,
		}},
	}

	data, err := EncodeOutbound(joined)
	require.NoError(t, err)

	decoded, err := DecodeOutbound(data)
	require.NoError(t, err)
	got := decoded.(SessionJoined)
	require.Len(t, got.Users, 1)
	assert.Equal(t, "u1", got.Users[0].UserID)
	require.Len(t, got.RecentChanges, 1)
	assert.Equal(t, model.ChangeKindCreate, got.RecentChanges[0].Kind)
	assert.Equal(t, int64(1), got.RecentChanges[0].Sequence)

	data, err = EncodeOutbound(ComponentChanged{Change: joined.RecentChanges[0]})
	require.NoError(t, err)
	decoded, err = DecodeOutbound(data)
	require.NoError(t, err)
	assert.Equal(t, TypeComponentCreated, decoded.Type())
	assert.Equal(t, "u1", decoded.Subject())
}

func TestInboundEncodeDecode(t *testing.T) {
	msgs := []Inbound{
		JoinSession{AgentID: "a", UserID: "u", UserName: "n"},
		LeaveSession{AgentID: "a", UserID: "u"},
		ComponentUpdate{UserID: "u", Component: json.RawMessage(`{"id":1}`)},
		ComponentCreate{UserID: "u", Component: json.RawMessage(`{"id":2}`)},
		ComponentDelete{UserID: "u", ComponentID: json.RawMessage(`"x"`)},
		CursorUpdate{UserID: "u", Position: json.RawMessage(`{"line":3}`)},
	}
	for _, msg := range msgs {
		data, err := EncodeInbound(msg)
		require.NoError(t, err)
		decoded, err := DecodeInbound(data)
		require.NoError(t, err, string(data))
		assert.Equal(t, msg.Type(), decoded.Type())
		assert.Equal(t, "u", decoded.Sender())
	}
}

// Anything outside the closed inbound set is rejected as a ProtocolError and
// never panics.
func TestUnknownTypesAreProtocolErrorsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	known := map[string]bool{
		string(TypeJoinSession): true, string(TypeLeaveSession): true,
		string(TypeComponentUpdate): true, string(TypeComponentCreate): true,
		string(TypeComponentDelete): true, string(TypeCursorUpdate): true,
	}

	properties.Property("unknown types decode to ProtocolError", prop.ForAll(
		func(typ string) bool {
			if known[typ] {
				return true
			}
			raw, err := json.Marshal(map[string]any{"type": typ, "userId": "u1"})
			if err != nil {
				return false
			}
			msg, err := DecodeInbound(raw)
			var perr *ProtocolError
			return msg == nil && errors.As(err, &perr)
		},
		gen.AnyString(),
	))

	properties.Property("arbitrary bytes never panic", prop.ForAll(
		func(data []byte) bool {
			msg, err := DecodeInbound(data)
			return (msg == nil) != (err == nil)
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
