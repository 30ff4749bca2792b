// Package event defines the PhaseEvent domain entity emitted on every state
// change of a story's context document.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/phasegate/internal/domain/phase"
)

// Type identifies the kind of phase event.
type Type string

const (
	TypePhaseCommitted        Type = "phase.committed"
	TypePhaseValidationFailed Type = "phase.validation_failed"
	TypePhaseAborted          Type = "phase.aborted"
	TypeStoryMerged           Type = "story.merged"
)

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypePhaseCommitted, TypePhaseValidationFailed, TypePhaseAborted, TypeStoryMerged:
		return true
	}
	return false
}

// PhaseEvent is a single immutable record of something that happened to a
// story. Phase is zero for story-wide events such as merges.
type PhaseEvent struct {
	ID        string          `json:"id"`
	StoryID   string          `json:"story_id"`
	Type      Type            `json:"type"`
	Phase     phase.ID        `json:"phase,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"request_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// CommittedPayload is the payload of phase.committed and story.merged.
type CommittedPayload struct {
	CompletedPhases []phase.ID `json:"completed_phases"`
	CurrentPhase    phase.ID   `json:"current_phase"`
	Revision        uint64     `json:"revision"`
}

// ValidationFailedPayload is the payload of phase.validation_failed.
type ValidationFailedPayload struct {
	Failures []string `json:"failures"`
}

// AbortedPayload is the payload of phase.aborted.
type AbortedPayload struct {
	Reason string `json:"reason"`
}

// New builds an event with a fresh id and the current time.
func New(storyID string, typ Type, id phase.ID, payload any) (PhaseEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return PhaseEvent{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return PhaseEvent{
		ID:        uuid.NewString(),
		StoryID:   storyID,
		Type:      typ,
		Phase:     id,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}, nil
}
