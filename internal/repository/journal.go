package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/agent-studio/collab/internal/model"
)

const (
	defaultJournalBuffer = 1024
	drainTimeout         = 5 * time.Second
)

// ActivityWriter persists activity events.
type ActivityWriter interface {
	Insert(ctx context.Context, event model.ActivityEvent) error
}

// Journal writes activity events in the background so the hub never waits
// on the database.
type Journal struct {
	writer ActivityWriter
	events chan model.ActivityEvent
	logger *slog.Logger
	done   chan struct{}
}

// NewJournal creates a journal over writer with room for buffer pending events.
func NewJournal(writer ActivityWriter, buffer int, logger *slog.Logger) *Journal {
	if buffer <= 0 {
		buffer = defaultJournalBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		writer: writer,
		events: make(chan model.ActivityEvent, buffer),
		logger: logger.With("component", "journal"),
		done:   make(chan struct{}),
	}
}

// Record queues an event. It never blocks; when the queue is full the
// event is dropped and logged.
func (j *Journal) Record(event model.ActivityEvent) {
	select {
	case j.events <- event:
	default:
		j.logger.Warn("journal queue full, dropping event", "agent_id", event.AgentID, "kind", event.Kind)
	}
}

// Run writes queued events until ctx is cancelled, then flushes whatever
// is still queued.
func (j *Journal) Run(ctx context.Context) {
	defer close(j.done)

	for {
		select {
		case <-ctx.Done():
			j.drain()
			return
		case event := <-j.events:
			j.write(ctx, event)
		}
	}
}

// Done is closed once Run has returned.
func (j *Journal) Done() <-chan struct{} {
	return j.done
}

func (j *Journal) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case event := <-j.events:
			j.write(ctx, event)
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, event model.ActivityEvent) {
	if err := j.writer.Insert(ctx, event); err != nil {
		j.logger.Error("failed to write activity", "agent_id", event.AgentID, "kind", event.Kind, "error", err)
	}
}
