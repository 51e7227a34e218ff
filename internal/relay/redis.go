// Package relay fans session traffic out across server processes through
// Redis pub/sub, one channel per agent.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agent-studio/collab/internal/protocol"
)

const (
	DefaultChannelPrefix = "collab:agent:"
	defaultQueueSize     = 1024
)

// Options configures a Relay.
type Options struct {
	ChannelPrefix string
	QueueSize     int
	Logger        *slog.Logger
}

// envelope is the pub/sub payload. Origin identifies the publishing
// process so it can skip its own messages.
type envelope struct {
	Origin  string          `json:"origin"`
	AgentID string          `json:"agentId"`
	Message json.RawMessage `json:"message"`
}

// DeliverFunc receives messages published by other processes.
type DeliverFunc func(agentID string, msg protocol.Outbound)

// Relay publishes locally originated broadcasts and delivers broadcasts
// from other processes.
type Relay struct {
	client *redis.Client
	prefix string
	origin string
	out    chan *redis.Message
	logger *slog.Logger
}

// New creates a relay over client.
func New(client *redis.Client, opts Options) *Relay {
	if opts.ChannelPrefix == "" {
		opts.ChannelPrefix = DefaultChannelPrefix
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	origin := uuid.NewString()
	return &Relay{
		client: client,
		prefix: opts.ChannelPrefix,
		origin: origin,
		out:    make(chan *redis.Message, opts.QueueSize),
		logger: opts.Logger.With("component", "relay", "origin", origin),
	}
}

// Origin returns the id stamped on every message this relay publishes.
func (r *Relay) Origin() string {
	return r.origin
}

// Publish queues msg for the agent's channel. It never blocks; when the
// queue is full the message is dropped and logged.
func (r *Relay) Publish(agentID string, msg protocol.Outbound) {
	payload, err := r.encode(agentID, msg)
	if err != nil {
		r.logger.Error("failed to encode relay message", "agent_id", agentID, "type", msg.Type(), "error", err)
		return
	}

	select {
	case r.out <- &redis.Message{Channel: r.channel(agentID), Payload: payload}:
	default:
		r.logger.Warn("relay queue full, dropping message", "agent_id", agentID, "type", msg.Type())
	}
}

// Run publishes queued messages and delivers messages from other processes
// until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, deliver DeliverFunc) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()

	// Wait for the subscription so nothing published after Run starts is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s*: %w", r.prefix, err)
	}
	r.logger.Info("relay subscribed", "pattern", r.prefix+"*")

	incoming := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-r.out:
			if err := r.client.Publish(ctx, m.Channel, m.Payload).Err(); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				r.logger.Warn("relay publish failed", "channel", m.Channel, "error", err)
			}
		case m, ok := <-incoming:
			if !ok {
				return nil
			}
			r.handle(m.Payload, deliver)
		}
	}
}

func (r *Relay) channel(agentID string) string {
	return r.prefix + agentID
}

func (r *Relay) encode(agentID string, msg protocol.Outbound) (string, error) {
	frame, err := protocol.EncodeOutbound(msg)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(envelope{Origin: r.origin, AgentID: agentID, Message: frame})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// handle decodes one pub/sub payload and delivers it unless this process
// published it.
func (r *Relay) handle(payload string, deliver DeliverFunc) bool {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("dropped malformed relay payload", "error", err)
		return false
	}
	if env.Origin == r.origin {
		return false
	}
	if env.AgentID == "" {
		r.logger.Warn("dropped relay payload without agent id", "origin", env.Origin)
		return false
	}

	msg, err := protocol.DecodeOutbound(env.Message)
	if err != nil {
		r.logger.Warn("dropped undecodable relay message", "origin", env.Origin, "error", err)
		return false
	}
	if _, ok := msg.(protocol.SessionJoined); ok {
		// Handshakes are addressed to one connection and never relayed.
		return false
	}
	deliver(env.AgentID, msg)
	return true
}
