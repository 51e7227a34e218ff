package session

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/agent-studio/collab/internal/protocol"
)

// recordingPeer collects every message delivered to it.
type recordingPeer struct {
	userID   string
	messages []protocol.Outbound
}

func (p *recordingPeer) Deliver(msg protocol.Outbound) {
	p.messages = append(p.messages, msg)
}

func (p *recordingPeer) last() protocol.Outbound {
	if len(p.messages) == 0 {
		return nil
	}
	return p.messages[len(p.messages)-1]
}

func (p *recordingPeer) ofType(t protocol.MessageType) []protocol.Outbound {
	var out []protocol.Outbound
	for _, m := range p.messages {
		if m.Type() == t {
			out = append(out, m)
		}
	}
	return out
}

func (p *recordingPeer) reset() {
	p.messages = nil
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRegistry(clock *fakeClock, mutate ...func(*Config)) *Registry {
	seq := 0
	cfg := Config{
		MaxRecentChanges: 5,
		MaxChangeAge:     time.Minute,
		GracePeriod:      10 * time.Second,
		Now:              clock.Now,
		NewID: func() string {
			seq++
			return fmt.Sprintf("change-%d", seq)
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	return NewRegistry(cfg)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func component(id int, name string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"id":%d,"name":%q}`, id, name))
}
