// Package eventstore defines the port interface for the append-only log of
// phase events.
package eventstore

import (
	"context"

	"github.com/Strob0t/phasegate/internal/domain/event"
)

// Store appends and loads phase events.
type Store interface {
	// Append persists a new event.
	Append(ctx context.Context, ev *event.PhaseEvent) error

	// LoadByStory returns the story's events, oldest first. limit <= 0
	// returns all of them.
	LoadByStory(ctx context.Context, storyID string, limit int) ([]event.PhaseEvent, error)
}
