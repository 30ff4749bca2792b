// Package agent defines the port for the external actor that performs a
// phase and returns its candidate output.
package agent

import (
	"context"

	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/plan"
	"github.com/Strob0t/phasegate/internal/domain/story"
)

// Request carries everything an executor needs to perform one phase: the
// phase definition, the plan for it, and the outputs of earlier phases.
type Request struct {
	StoryID string                    `json:"story_id"`
	Phase   phase.Definition          `json:"phase"`
	Plan    plan.PhasePlan            `json:"plan"`
	Prior   map[phase.ID]story.Output `json:"prior_outputs"`
}

// Executor performs a phase.
type Executor interface {
	// Name returns the unique identifier for this executor.
	Name() string

	// Execute performs the phase and returns the candidate output. A
	// cancelled or timed-out execution returns an error wrapping
	// domain.ErrPhaseExecutionAborted.
	Execute(ctx context.Context, req Request) (story.Output, error)
}
