package story

import (
	"fmt"
	"slices"

	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/phase"
)

// Merge combines two copies of the same story that evolved on separate
// tracks. Completed phases are unioned and outputs are unioned key-wise. When
// both copies hold different outputs for the same phase the merge fails with
// a *ContextConflictError listing every colliding phase; no side is picked.
func Merge(r *phase.Registry, a, b *Document) (*Document, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("%w: both documents are required", domain.ErrValidation)
	}
	if a.StoryID != b.StoryID {
		return nil, fmt.Errorf("%w: cannot merge story %q into story %q", domain.ErrValidation, b.StoryID, a.StoryID)
	}
	for _, d := range []*Document{a, b} {
		if err := d.CheckInvariants(r); err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
	}

	merged := a.Clone()
	var conflicts []phase.ID
	for id, theirs := range b.PhaseOutputs {
		ours, ok := merged.PhaseOutputs[id]
		if !ok {
			merged.PhaseOutputs[id] = theirs.deepCopy()
			continue
		}
		if !ours.Equal(theirs) {
			conflicts = append(conflicts, id)
		}
	}
	if len(conflicts) > 0 {
		slices.Sort(conflicts)
		return nil, &ContextConflictError{StoryID: a.StoryID, Phases: conflicts}
	}

	merged.CompletedPhases = append(merged.CompletedPhases, b.CompletedPhases...)
	merged.normalize()

	if err := merged.CheckInvariants(r); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	return merged, nil
}
