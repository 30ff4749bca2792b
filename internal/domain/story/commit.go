package story

import (
	"fmt"

	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/phase"
)

// Commit records out as the output of phase id and returns the new document.
// doc is never mutated. A commit is rejected with a
// *PrerequisiteViolationError when a prerequisite of id is not complete.
// Re-committing a phase replaces its output wholesale; committing the same
// output twice yields an identical document.
func Commit(r *phase.Registry, doc *Document, id phase.ID, out Output) (*Document, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: document is required", domain.ErrValidation)
	}
	if err := doc.CheckInvariants(r); err != nil {
		return nil, fmt.Errorf("commit phase %d: %w", id, err)
	}

	decision, err := phase.CanRun(r, id, doc.Completed())
	if err != nil {
		return nil, fmt.Errorf("commit story %s: %w", doc.StoryID, err)
	}
	if !decision.Runnable {
		return nil, &PrerequisiteViolationError{StoryID: doc.StoryID, Decision: decision}
	}

	stored, err := out.Clone()
	if err != nil {
		return nil, fmt.Errorf("commit story %s phase %d: %w", doc.StoryID, id, err)
	}
	if stored == nil {
		stored = Output{}
	}

	next := doc.Clone()
	next.PhaseOutputs[id] = stored
	if !next.IsComplete(id) {
		next.CompletedPhases = append(next.CompletedPhases, id)
	}
	next.normalize()
	return next, nil
}
