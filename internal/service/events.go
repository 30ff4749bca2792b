package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/phasegate/internal/domain/event"
	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/logger"
	"github.com/Strob0t/phasegate/internal/port/messagequeue"
)

// Events returns the most recent events of storyID, oldest first. Without
// an event store the history is empty.
func (s *StoryService) Events(ctx context.Context, storyID string, limit int) ([]event.PhaseEvent, error) {
	if err := checkStoryID(storyID); err != nil {
		return nil, err
	}
	if s.events == nil {
		return []event.PhaseEvent{}, nil
	}
	evs, err := s.events.LoadByStory(ctx, storyID, limit)
	if err != nil {
		return nil, fmt.Errorf("events for story %s: %w", storyID, err)
	}
	return evs, nil
}

// Relay forwards events published on the queue to the WebSocket hub, so
// every instance's clients see commits made by any instance. It is a no-op
// without both a queue and a hub.
func (s *StoryService) Relay(ctx context.Context) (cancel func(), err error) {
	if s.queue == nil || s.hub == nil {
		return func() {}, nil
	}
	return s.queue.Subscribe(ctx, messagequeue.SubjectEventsAll, func(ctx context.Context, _ string, data []byte) error {
		var ev event.PhaseEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("relay: decode event: %w", err)
		}
		s.hub.BroadcastEvent(ctx, string(ev.Type), ev)
		return nil
	})
}

// emit records an event in the event store and publishes it. With a queue
// the hub is reached through Relay; without one the hub is called directly.
// Failures are logged: the state change the event describes already
// happened.
func (s *StoryService) emit(ctx context.Context, storyID string, typ event.Type, id phase.ID, payload any) {
	ev, err := event.New(storyID, typ, id, payload)
	if err != nil {
		slog.ErrorContext(ctx, "build event", "type", typ, "error", err)
		return
	}
	ev.RequestID = logger.RequestID(ctx)

	if s.events != nil {
		if err := s.events.Append(ctx, &ev); err != nil {
			slog.ErrorContext(ctx, "append event", "type", typ, "story_id", storyID, "error", err)
		}
	}

	if s.queue != nil {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.ErrorContext(ctx, "marshal event", "type", typ, "error", err)
			return
		}
		if err := s.queue.Publish(ctx, messagequeue.EventSubject(string(typ)), data); err != nil {
			slog.ErrorContext(ctx, "publish event", "type", typ, "story_id", storyID, "error", err)
		}
		return
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, string(typ), ev)
	}
}

// aborted reports a cancelled or timed-out collaborator for phase id.
func (s *StoryService) aborted(ctx context.Context, storyID string, id phase.ID, cause error) {
	if s.metrics != nil {
		s.metrics.Aborts.Add(ctx, 1)
	}
	slog.WarnContext(ctx, "phase execution aborted", "story_id", storyID, "phase", int(id), "error", cause)
	// The caller's context is done; record the event on a detached one.
	s.emit(context.WithoutCancel(ctx), storyID, event.TypePhaseAborted, id, event.AbortedPayload{Reason: cause.Error()})
}
