package memory

import (
	"context"
	"sync"

	"github.com/Strob0t/phasegate/internal/domain/event"
)

// EventLog is an in-memory event store.
type EventLog struct {
	mu     sync.Mutex
	events map[string][]event.PhaseEvent
}

// NewEventLog returns an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{events: make(map[string][]event.PhaseEvent)}
}

// Append implements eventstore.Store.
func (l *EventLog) Append(_ context.Context, ev *event.PhaseEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[ev.StoryID] = append(l.events[ev.StoryID], *ev)
	return nil
}

// LoadByStory implements eventstore.Store.
func (l *EventLog) LoadByStory(_ context.Context, storyID string, limit int) ([]event.PhaseEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	evs := l.events[storyID]
	if limit > 0 && len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}
	out := make([]event.PhaseEvent, len(evs))
	copy(out, evs)
	return out, nil
}
