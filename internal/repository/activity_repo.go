package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agent-studio/collab/internal/db"
	"github.com/agent-studio/collab/internal/model"
)

// DefaultListLimit caps activity listings when no limit is given.
const DefaultListLimit = 100

// ActivityRepository provides data access for the activity journal.
type ActivityRepository struct {
	db     *sql.DB
	driver string
}

// NewActivityRepository creates a new ActivityRepository. driver selects
// the placeholder syntax and is one of db.DriverSQLite or db.DriverPostgres.
func NewActivityRepository(conn *sql.DB, driver string) *ActivityRepository {
	return &ActivityRepository{db: conn, driver: driver}
}

// Insert appends an event to the journal.
func (r *ActivityRepository) Insert(ctx context.Context, event model.ActivityEvent) error {
	query := db.Rebind(r.driver, `
		INSERT INTO activity (agent_id, user_id, kind, change_kind, sequence, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)

	_, err := r.db.ExecContext(ctx, query,
		event.AgentID,
		event.UserID,
		string(event.Kind),
		string(event.ChangeKind),
		event.Sequence,
		event.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

// ListByAgent returns up to limit events for agentID, newest first.
func (r *ActivityRepository) ListByAgent(ctx context.Context, agentID string, limit int) ([]model.ActivityEvent, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := db.Rebind(r.driver, `
		SELECT id, agent_id, user_id, kind, change_kind, sequence, occurred_at
		FROM activity
		WHERE agent_id = ?
		ORDER BY id DESC
		LIMIT ?
	`)

	rows, err := r.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	events := make([]model.ActivityEvent, 0)
	for rows.Next() {
		var (
			event      model.ActivityEvent
			kind       string
			changeKind string
		)
		if err := rows.Scan(
			&event.ID,
			&event.AgentID,
			&event.UserID,
			&kind,
			&changeKind,
			&event.Sequence,
			&event.At,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		event.Kind = model.ActivityKind(kind)
		event.ChangeKind = model.ChangeKind(changeKind)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity: %w", err)
	}
	return events, nil
}

// CountByAgent returns the number of journaled events for agentID.
func (r *ActivityRepository) CountByAgent(ctx context.Context, agentID string) (int, error) {
	query := db.Rebind(r.driver, `SELECT COUNT(*) FROM activity WHERE agent_id = ?`)

	var count int
	if err := r.db.QueryRowContext(ctx, query, agentID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count activity: %w", err)
	}
	return count, nil
}
