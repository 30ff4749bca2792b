package service

import (
	"context"
	"fmt"

	"github.com/Strob0t/phasegate/internal/domain/artifact"
	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/progress"
)

// Project returns the progress view of storyID: the state of every phase,
// the completion fraction, and the recommended next action. It reads the
// plan and the deliverables on disk but never writes.
func (s *StoryService) Project(ctx context.Context, storyID string) (progress.View, error) {
	doc, _, err := s.loadOrNew(ctx, storyID)
	if err != nil {
		return progress.View{}, err
	}
	p, err := s.planFor(ctx, storyID)
	if err != nil {
		return progress.View{}, abortOr(ctx, err)
	}

	found := make(map[phase.ID][]artifact.Artifact, phase.Count)
	for _, def := range s.registry.All() {
		if doc.IsComplete(def.ID) {
			continue
		}
		items, err := s.artifacts.ListExisting(ctx, storyID, p.For(def.ID))
		if err != nil {
			return progress.View{}, abortOr(ctx, fmt.Errorf("project story %s phase %d: %w", storyID, def.ID, err))
		}
		found[def.ID] = items
	}

	return progress.Project(s.registry, doc, p, found)
}
