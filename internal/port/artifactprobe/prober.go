// Package artifactprobe defines the port for discovering which deliverables
// exist for a phase.
package artifactprobe

import (
	"context"

	"github.com/Strob0t/phasegate/internal/domain/artifact"
	"github.com/Strob0t/phasegate/internal/domain/plan"
)

// Prober lists the existing deliverables of one phase of a story.
type Prober interface {
	// ListExisting returns an artifact for every declared deliverable that
	// exists, with its size. Missing deliverables are omitted.
	ListExisting(ctx context.Context, storyID string, pp plan.PhasePlan) ([]artifact.Artifact, error)
}
