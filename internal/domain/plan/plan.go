// Package plan defines the per-story plan document: for each phase, the
// ordered list of deliverables that phase is expected to produce.
package plan

import (
	"errors"
	"fmt"

	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/phase"
)

var (
	ErrStoryIDRequired       = errors.New("story_id is required")
	ErrDuplicatePhase        = errors.New("phase declared twice")
	ErrDuplicateDeliverable  = errors.New("deliverable declared twice")
	ErrEmptyDeliverable      = errors.New("deliverable identifier is empty")
	ErrExpectedCountNegative = errors.New("expected_count must be >= 0")
)

// Document is the plan for one story. It is produced by planning tooling and
// is read-only input to validation and progress projection.
type Document struct {
	StoryID string      `json:"story_id" yaml:"story_id"`
	Title   string      `json:"title,omitempty" yaml:"title,omitempty"`
	Phases  []PhasePlan `json:"phases" yaml:"phases"`
}

// PhasePlan lists the deliverables declared for one phase. ExpectedCount,
// when larger than len(Deliverables), raises the number of deliverables the
// phase must produce.
type PhasePlan struct {
	Phase         phase.ID `json:"phase" yaml:"phase"`
	Deliverables  []string `json:"deliverables" yaml:"deliverables"`
	ExpectedCount int      `json:"expected_count,omitempty" yaml:"expected_count,omitempty"`
}

// For returns the plan for phase id, or an empty PhasePlan when the plan
// declares nothing for it.
func (d *Document) For(id phase.ID) PhasePlan {
	for _, p := range d.Phases {
		if p.Phase == id {
			return p
		}
	}
	return PhasePlan{Phase: id}
}

// Expected returns how many deliverables the phase must produce.
func (p PhasePlan) Expected() int {
	return max(p.ExpectedCount, len(p.Deliverables))
}

// Validate checks the plan for structural correctness.
func (d *Document) Validate() error {
	if d.StoryID == "" {
		return ErrStoryIDRequired
	}
	seen := phase.NewSet()
	for i, p := range d.Phases {
		if !p.Phase.Valid() {
			return fmt.Errorf("phases[%d]: phase %d: %w", i, p.Phase, domain.ErrUnknownPhase)
		}
		if seen.Has(p.Phase) {
			return fmt.Errorf("phases[%d]: phase %d: %w", i, p.Phase, ErrDuplicatePhase)
		}
		seen[p.Phase] = struct{}{}
		if p.ExpectedCount < 0 {
			return fmt.Errorf("phase %d: %w", p.Phase, ErrExpectedCountNegative)
		}
		names := make(map[string]bool, len(p.Deliverables))
		for _, name := range p.Deliverables {
			if name == "" {
				return fmt.Errorf("phase %d: %w", p.Phase, ErrEmptyDeliverable)
			}
			if names[name] {
				return fmt.Errorf("phase %d deliverable %q: %w", p.Phase, name, ErrDuplicateDeliverable)
			}
			names[name] = true
		}
	}
	return nil
}
