// Package story defines the per-story context document that records which
// phases are complete and what each phase produced.
package story

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/phase"
)

// Output is the record produced by one completed phase run: field name to
// value, where values are strings, string lists, or endpoint descriptors.
type Output map[string]any

// Canonical returns the output's canonical JSON encoding (sorted keys).
func (o Output) Canonical() ([]byte, error) {
	if o == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(o)
}

// Equal reports whether two outputs encode to the same canonical JSON.
func (o Output) Equal(other Output) bool {
	a, errA := o.Canonical()
	b, errB := other.Canonical()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Clone returns a deep copy of the output in JSON-generic form.
func (o Output) Clone() (Output, error) {
	data, err := o.Canonical()
	if err != nil {
		return nil, fmt.Errorf("clone output: %w", err)
	}
	var out Output
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone output: %w", err)
	}
	return out, nil
}

// deepCopy copies nested maps and slices so the result shares nothing with o.
func (o Output) deepCopy() Output {
	if o == nil {
		return nil
	}
	out := make(Output, len(o))
	for k, v := range o {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Output(t).deepCopy())
	case Output:
		return t.deepCopy()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

// Document is the aggregate root for one story. CompletedPhases only grows
// over the lifetime of a story and is always closed under prerequisites.
type Document struct {
	StoryID         string              `json:"storyId"`
	CompletedPhases []phase.ID          `json:"completedPhases"`
	CurrentPhase    phase.ID            `json:"currentPhase"`
	PhaseOutputs    map[phase.ID]Output `json:"phaseOutputs"`
}

// New returns an empty document for storyID.
func New(storyID string) *Document {
	return &Document{
		StoryID:         storyID,
		CompletedPhases: []phase.ID{},
		CurrentPhase:    phase.UI,
		PhaseOutputs:    map[phase.ID]Output{},
	}
}

// Completed returns the completed phases as a set.
func (d *Document) Completed() phase.Set {
	return phase.NewSet(d.CompletedPhases...)
}

// IsComplete reports whether id has been committed.
func (d *Document) IsComplete(id phase.ID) bool {
	return slices.Contains(d.CompletedPhases, id)
}

// Clone returns a copy that shares no mutable state with d.
func (d *Document) Clone() *Document {
	out := &Document{
		StoryID:         d.StoryID,
		CompletedPhases: slices.Clone(d.CompletedPhases),
		CurrentPhase:    d.CurrentPhase,
		PhaseOutputs:    make(map[phase.ID]Output, len(d.PhaseOutputs)),
	}
	if out.CompletedPhases == nil {
		out.CompletedPhases = []phase.ID{}
	}
	for id, o := range d.PhaseOutputs {
		out.PhaseOutputs[id] = o.deepCopy()
	}
	return out
}

// CheckInvariants verifies the document is well-formed: a story id is set,
// completed phases are known, unique, and closed under prerequisites, and
// every completed phase has an output.
func (d *Document) CheckInvariants(r *phase.Registry) error {
	if d.StoryID == "" {
		return fmt.Errorf("%w: storyId is required", domain.ErrValidation)
	}
	seen := phase.NewSet()
	for _, id := range d.CompletedPhases {
		if !id.Valid() {
			return fmt.Errorf("story %s: completed phase %d: %w", d.StoryID, id, domain.ErrUnknownPhase)
		}
		if seen.Has(id) {
			return fmt.Errorf("%w: story %s lists phase %d twice", domain.ErrValidation, d.StoryID, id)
		}
		seen[id] = struct{}{}
		if _, ok := d.PhaseOutputs[id]; !ok {
			return fmt.Errorf("%w: story %s phase %d is complete but has no output", domain.ErrValidation, d.StoryID, id)
		}
	}
	if ok, offender, missing := phase.Closed(r, seen); !ok {
		return &PrerequisiteViolationError{
			StoryID:  d.StoryID,
			Decision: phase.Decision{Phase: offender, Missing: missing},
		}
	}
	for id := range d.PhaseOutputs {
		if !id.Valid() {
			return fmt.Errorf("story %s: output for phase %d: %w", d.StoryID, id, domain.ErrUnknownPhase)
		}
	}
	return nil
}

// normalize sorts completed phases and recomputes CurrentPhase.
func (d *Document) normalize() {
	slices.Sort(d.CompletedPhases)
	d.CompletedPhases = slices.Compact(d.CompletedPhases)
	d.CurrentPhase = nextPhase(d.CompletedPhases)
}

// nextPhase is max(completed)+1, capped at phase.Done.
func nextPhase(completed []phase.ID) phase.ID {
	if len(completed) == 0 {
		return phase.UI
	}
	next := slices.Max(completed) + 1
	if next > phase.Done {
		next = phase.Done
	}
	return next
}

// PrerequisiteViolationError reports a commit attempted before its
// prerequisites were complete.
type PrerequisiteViolationError struct {
	StoryID  string
	Decision phase.Decision
}

func (e *PrerequisiteViolationError) Error() string {
	return fmt.Sprintf("story %s: %s; run and validate the missing phases first", e.StoryID, e.Decision.Reason())
}

func (e *PrerequisiteViolationError) Unwrap() error { return domain.ErrPrerequisiteViolation }

// ContextConflictError reports phases written differently by two tracks.
type ContextConflictError struct {
	StoryID string
	Phases  []phase.ID
}

func (e *ContextConflictError) Error() string {
	return fmt.Sprintf("story %s: phase %s written differently by both tracks; resolve manually before merging",
		e.StoryID, phase.JoinIDs(e.Phases))
}

func (e *ContextConflictError) Unwrap() error { return domain.ErrContextConflict }
