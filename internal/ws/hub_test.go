package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-studio/collab/internal/model"
	"github.com/agent-studio/collab/internal/protocol"
	"github.com/agent-studio/collab/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T, mutate ...func(*HubConfig)) *Hub {
	t.Helper()
	cfg := HubConfig{
		Session: session.Config{
			MaxRecentChanges: 10,
			MaxChangeAge:     time.Minute,
			GracePeriod:      time.Minute,
		},
		SweepInterval: time.Hour,
		Logger:        discardLogger(),
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	hub := NewHub(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return hub
}

// mockClient registers a client without a network connection.
func mockClient(t *testing.T, hub *Hub) *Client {
	t.Helper()
	c := NewClient(hub, nil, 64)
	require.NoError(t, hub.Register(c))
	return c
}

func submit(t *testing.T, hub *Hub, c *Client, msg protocol.Inbound) {
	t.Helper()
	require.NoError(t, hub.Submit(c, msg))
	// A query runs after every previously submitted message is handled.
	require.NoError(t, hub.Query(context.Background(), func(*session.Registry) {}))
}

func receive(t *testing.T, c *Client) protocol.Outbound {
	t.Helper()
	select {
	case data, ok := <-c.SendChan():
		require.True(t, ok, "client closed")
		msg, err := protocol.DecodeOutbound(data)
		require.NoError(t, err)
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data, ok := <-c.SendChan():
		if ok {
			t.Fatalf("unexpected message: %s", data)
		}
	default:
	}
}

func join(agentID, userID, name string) protocol.JoinSession {
	return protocol.JoinSession{AgentID: agentID, UserID: userID, UserName: name}
}

func TestHub_JoinAndImplicitLeave(t *testing.T) {
	hub := startHub(t)
	u1 := mockClient(t, hub)
	u2 := mockClient(t, hub)

	submit(t, hub, u1, join("agent-42", "u1", "Ann"))
	joined := receive(t, u1).(protocol.SessionJoined)
	assert.Equal(t, "u1", joined.UserID)
	assert.Empty(t, joined.Users)
	assert.Empty(t, joined.RecentChanges)

	submit(t, hub, u2, join("agent-42", "u2", "Bob"))
	joined = receive(t, u2).(protocol.SessionJoined)
	require.Len(t, joined.Users, 1)
	assert.Equal(t, "u1", joined.Users[0].UserID)

	assert.NotEqual(t, joined.Users[0].Color, joined.Color)

	userJoined := receive(t, u1).(protocol.UserJoined)
	assert.Equal(t, "u2", userJoined.UserID)
	assert.Equal(t, "Bob", userJoined.Username)
	assert.Equal(t, joined.Color, userJoined.Color)

	hub.Unregister(u2)
	left := receive(t, u1).(protocol.UserLeft)
	assert.Equal(t, "u2", left.UserID)
	assert.True(t, u2.IsClosed())

	svc := &Service{hub: hub}
	n, err := svc.ParticipantCount(context.Background(), "agent-42")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHub_MessagesBeforeJoinAreIgnored(t *testing.T) {
	hub := startHub(t)
	observer := mockClient(t, hub)
	submit(t, hub, observer, join("agent", "obs", ""))
	receive(t, observer)

	c := mockClient(t, hub)
	submit(t, hub, c, protocol.ComponentUpdate{UserID: "u1", Component: json.RawMessage(`{"id":1}`)})
	submit(t, hub, c, protocol.CursorUpdate{UserID: "u1", Position: json.RawMessage(`1`)})
	submit(t, hub, c, protocol.LeaveSession{AgentID: "agent", UserID: "u1"})

	expectNothing(t, c)
	expectNothing(t, observer)
}

func TestHub_SenderMustMatchJoinedUser(t *testing.T) {
	hub := startHub(t)
	u1 := mockClient(t, hub)
	u2 := mockClient(t, hub)
	submit(t, hub, u1, join("agent", "u1", ""))
	submit(t, hub, u2, join("agent", "u2", ""))
	receive(t, u1)
	receive(t, u1)
	receive(t, u2)

	submit(t, hub, u1, protocol.ComponentUpdate{UserID: "u2", Component: json.RawMessage(`{"id":1}`)})
	expectNothing(t, u2)
}

func TestHub_ChangeBroadcastExcludesAuthor(t *testing.T) {
	hub := startHub(t)
	u1 := mockClient(t, hub)
	u2 := mockClient(t, hub)
	submit(t, hub, u1, join("agent-42", "u1", ""))
	submit(t, hub, u2, join("agent-42", "u2", ""))
	receive(t, u1)
	receive(t, u1)
	receive(t, u2)

	submit(t, hub, u1, protocol.ComponentUpdate{UserID: "u1", Component: json.RawMessage(`{"id":7,"name":"Rule A"}`)})
	changed := receive(t, u2).(protocol.ComponentChanged)
	assert.Equal(t, protocol.TypeComponentUpdated, changed.Type())
	assert.Equal(t, "u1", changed.Change.AuthorUserID)
	assert.Equal(t, int64(1), changed.Change.Sequence)
	assert.JSONEq(t, `{"id":7,"name":"Rule A"}`, string(changed.Change.Payload))
	expectNothing(t, u1)

	submit(t, hub, u2, protocol.ComponentDelete{UserID: "u2", ComponentID: json.RawMessage(`7`)})
	deleted := receive(t, u1).(protocol.ComponentChanged)
	assert.Equal(t, model.ChangeKindDelete, deleted.Change.Kind)
	assert.JSONEq(t, `{"id":7}`, string(deleted.Change.Payload))
	assert.Equal(t, int64(2), deleted.Change.Sequence)

	submit(t, hub, u2, protocol.CursorUpdate{UserID: "u2", Position: json.RawMessage(`{"x":3}`)})
	cursor := receive(t, u1).(protocol.CursorUpdated)
	assert.Equal(t, "u2", cursor.UserID)
	expectNothing(t, u2)
}

func TestHub_LateJoinerReceivesRecentChanges(t *testing.T) {
	hub := startHub(t)
	u1 := mockClient(t, hub)
	submit(t, hub, u1, join("agent", "u1", ""))
	for i := 0; i < 3; i++ {
		submit(t, hub, u1, protocol.ComponentCreate{UserID: "u1", Component: json.RawMessage(`{"id":1}`)})
	}

	u2 := mockClient(t, hub)
	submit(t, hub, u2, join("agent", "u2", ""))
	joined := receive(t, u2).(protocol.SessionJoined)
	require.Len(t, joined.RecentChanges, 3)
	for i, rec := range joined.RecentChanges {
		assert.Equal(t, int64(i+1), rec.Sequence)
		assert.Equal(t, model.ChangeKindCreate, rec.Kind)
	}
}

func TestHub_RejoinFromNewConnection(t *testing.T) {
	hub := startHub(t)
	observer := mockClient(t, hub)
	submit(t, hub, observer, join("agent", "obs", ""))
	receive(t, observer)

	first := mockClient(t, hub)
	submit(t, hub, first, join("agent", "u1", ""))
	color := receive(t, first).(protocol.SessionJoined).Color
	receive(t, observer)

	second := mockClient(t, hub)
	submit(t, hub, second, join("agent", "u1", ""))
	joined := receive(t, second).(protocol.SessionJoined)
	assert.Equal(t, color, joined.Color)
	receive(t, observer)

	// The replaced connection closing must not remove the rejoined user.
	hub.Unregister(first)
	svc := &Service{hub: hub}
	info, ok, err := svc.Session(context.Background(), "agent")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, info.Participants, 2)
	expectNothing(t, observer)

	hub.Unregister(second)
	assert.Equal(t, "u1", receive(t, observer).(protocol.UserLeft).UserID)
}

func TestHub_ExplicitLeave(t *testing.T) {
	hub := startHub(t)
	u1 := mockClient(t, hub)
	u2 := mockClient(t, hub)
	submit(t, hub, u1, join("agent", "u1", ""))
	submit(t, hub, u2, join("agent", "u2", ""))
	receive(t, u1)
	receive(t, u1)
	receive(t, u2)

	submit(t, hub, u2, protocol.LeaveSession{AgentID: "agent", UserID: "u2"})
	assert.Equal(t, "u2", receive(t, u1).(protocol.UserLeft).UserID)
	assert.False(t, u2.IsClosed(), "leaving does not close the connection")

	// Closing after an explicit leave announces nothing further.
	hub.Unregister(u2)
	expectNothing(t, u1)
}

func TestHub_JoinAnotherAgentLeavesPrevious(t *testing.T) {
	hub := startHub(t)
	observer := mockClient(t, hub)
	submit(t, hub, observer, join("agent-a", "obs", ""))
	receive(t, observer)

	c := mockClient(t, hub)
	submit(t, hub, c, join("agent-a", "u1", ""))
	receive(t, c)
	receive(t, observer)

	submit(t, hub, c, join("agent-b", "u1", ""))
	assert.Equal(t, "u1", receive(t, observer).(protocol.UserLeft).UserID)
	assert.Equal(t, "agent-b", receive(t, c).(protocol.SessionJoined).AgentID)
}

func TestHub_SlowClientIsDisconnected(t *testing.T) {
	hub := startHub(t)
	fast := mockClient(t, hub)
	slow := NewClient(hub, nil, 1)
	require.NoError(t, hub.Register(slow))

	submit(t, hub, slow, join("agent", "slow", ""))
	submit(t, hub, fast, join("agent", "fast", ""))
	submit(t, hub, fast, protocol.CursorUpdate{UserID: "fast", Position: json.RawMessage(`1`)})

	assert.True(t, slow.IsClosed())
}

func TestHub_DeliverRemote(t *testing.T) {
	hub := startHub(t)
	u1 := mockClient(t, hub)
	submit(t, hub, u1, join("agent", "u1", ""))
	receive(t, u1)

	hub.DeliverRemote("agent", protocol.UserJoined{UserID: "far", Username: "Far", Color: "#123456"})
	assert.Equal(t, "far", receive(t, u1).(protocol.UserJoined).UserID)

	hub.DeliverRemote("agent", protocol.ComponentChanged{Change: model.ChangeRecord{
		ID:           "remote-1",
		Kind:         model.ChangeKindUpdate,
		Payload:      json.RawMessage(`{"id":2}`),
		AuthorUserID: "far",
		Timestamp:    time.Now().UTC(),
	}})
	changed := receive(t, u1).(protocol.ComponentChanged)
	assert.Equal(t, "remote-1", changed.Change.ID)
	assert.Equal(t, int64(1), changed.Change.Sequence)
}

func TestHub_OnBroadcastPublishesLocalFanOut(t *testing.T) {
	var published []protocol.MessageType
	hub := startHub(t, func(cfg *HubConfig) {
		cfg.Session.OnBroadcast = func(agentID string, msg protocol.Outbound) {
			published = append(published, msg.Type())
		}
	})
	u1 := mockClient(t, hub)
	submit(t, hub, u1, join("agent", "u1", ""))
	submit(t, hub, u1, protocol.ComponentCreate{UserID: "u1", Component: json.RawMessage(`{"id":1}`)})

	var got []protocol.MessageType
	require.NoError(t, hub.Query(context.Background(), func(*session.Registry) {
		got = append(got, published...)
	}))
	assert.Equal(t, []protocol.MessageType{protocol.TypeUserJoined, protocol.TypeComponentCreated}, got)
}

func TestHub_StoppedHubRejectsCalls(t *testing.T) {
	hub := NewHub(HubConfig{Logger: discardLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	cancel()
	<-hub.Done()

	c := NewClient(hub, nil, 1)
	assert.ErrorIs(t, hub.Register(c), ErrHubClosed)
	assert.ErrorIs(t, hub.Submit(c, join("a", "u", "")), ErrHubClosed)
	assert.ErrorIs(t, hub.Query(context.Background(), func(*session.Registry) {}), ErrHubClosed)
	hub.Unregister(c)
	assert.True(t, c.IsClosed())
}

func TestHub_QueryPanicKeepsLoopRunning(t *testing.T) {
	hub := startHub(t)
	u1 := mockClient(t, hub)
	submit(t, hub, u1, join("agent-42", "u1", "Ann"))
	receive(t, u1)

	err := hub.Query(context.Background(), func(*session.Registry) {
		panic("boom")
	})
	var appErr *model.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "query", appErr.Type)

	n := 0
	require.NoError(t, hub.Query(context.Background(), func(r *session.Registry) {
		n = r.ParticipantCount("agent-42")
	}))
	assert.Equal(t, 1, n)
}
