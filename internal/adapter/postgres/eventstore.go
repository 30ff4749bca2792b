package postgres

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/phasegate/internal/domain/event"
	"github.com/Strob0t/phasegate/internal/domain/phase"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts a new event into the phase_events table.
func (s *EventStore) Append(ctx context.Context, ev *event.PhaseEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO phase_events (id, story_id, event_type, phase, payload, request_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.StoryID, string(ev.Type), int32(ev.Phase), []byte(ev.Payload), ev.RequestID, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// LoadByStory returns the newest limit events of a story, oldest first.
func (s *EventStore) LoadByStory(ctx context.Context, storyID string, limit int) ([]event.PhaseEvent, error) {
	query := `SELECT id::text, story_id, event_type, phase, payload, request_id, created_at
		FROM phase_events WHERE story_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{storyID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load events for story %s: %w", storyID, err)
	}
	defer rows.Close()

	var events []event.PhaseEvent
	for rows.Next() {
		var (
			ev      event.PhaseEvent
			typ     string
			phaseID int32
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.StoryID, &typ, &phaseID, &payload, &ev.RequestID, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = event.Type(typ)
		ev.Phase = phase.ID(phaseID)
		ev.Payload = payload
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load events for story %s: %w", storyID, err)
	}
	slices.Reverse(events)
	return orEmpty(events), nil
}
