package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/phasegate/internal/adapter/otel"
	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/event"
	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/story"
	"github.com/Strob0t/phasegate/internal/domain/validation"
	"github.com/Strob0t/phasegate/internal/port/contextstore"
)

// Commit validates out and, on pass, records it as the output of phase id.
// The read-modify-write runs under compare-and-swap; a write lost to a
// concurrent writer is retried from a fresh read with exponential backoff
// and surfaced as domain.ErrStaleWrite once the attempts are used up. A
// failing candidate returns a *validation.FailedError and leaves the store
// untouched.
func (s *StoryService) Commit(ctx context.Context, storyID string, id phase.ID, out story.Output) (doc *story.Document, err error) {
	ctx, span := cfotel.StartPhaseSpan(ctx, "commit", storyID, int(id))
	defer func() { cfotel.EndSpan(span, err) }()

	// Reject early so a blocked phase does not pay for quality checks.
	d, err := s.CanRun(ctx, storyID, id)
	if err != nil {
		return nil, err
	}
	if !d.Runnable {
		return nil, &story.PrerequisiteViolationError{StoryID: storyID, Decision: d}
	}

	res, err := s.Validate(ctx, storyID, id, out)
	if err != nil {
		return nil, err
	}
	if !res.Passed {
		return nil, &validation.FailedError{StoryID: storyID, Result: res}
	}

	next, rev, err := s.update(ctx, storyID, func(cur *story.Document) (*story.Document, error) {
		return story.Commit(s.registry, cur, id, out)
	})
	if err != nil {
		return nil, fmt.Errorf("commit story %s phase %d: %w", storyID, id, err)
	}

	if s.metrics != nil {
		s.metrics.Commits.Add(ctx, 1, metric.WithAttributes(attribute.Int("phase", int(id))))
	}
	slog.InfoContext(ctx, "phase committed", "story_id", storyID, "phase", int(id), "revision", uint64(rev))
	s.emit(ctx, storyID, event.TypePhaseCommitted, id, committedPayload(next, rev))
	return next, nil
}

// Merge folds a document that evolved on a parallel track into the stored
// one. A story without a stored document adopts incoming as is. Phases
// written differently on both sides fail the merge with a
// *story.ContextConflictError; nothing is persisted in that case.
func (s *StoryService) Merge(ctx context.Context, storyID string, incoming *story.Document) (doc *story.Document, err error) {
	ctx, span := cfotel.StartStorySpan(ctx, "merge", storyID)
	defer func() { cfotel.EndSpan(span, err) }()

	if incoming == nil {
		return nil, fmt.Errorf("%w: document is required", domain.ErrValidation)
	}
	if incoming.StoryID != storyID {
		return nil, fmt.Errorf("%w: document is for story %q, not %q", domain.ErrValidation, incoming.StoryID, storyID)
	}

	next, rev, err := s.update(ctx, storyID, func(cur *story.Document) (*story.Document, error) {
		return story.Merge(s.registry, cur, incoming)
	})
	if err != nil {
		return nil, fmt.Errorf("merge story %s: %w", storyID, err)
	}

	if s.metrics != nil {
		s.metrics.Merges.Add(ctx, 1)
	}
	slog.InfoContext(ctx, "story merged", "story_id", storyID, "completed", len(next.CompletedPhases), "revision", uint64(rev))
	s.emit(ctx, storyID, event.TypeStoryMerged, 0, committedPayload(next, rev))
	return next, nil
}

// update applies fn to the current document and saves the result under
// compare-and-swap, retrying on domain.ErrStaleWrite only.
func (s *StoryService) update(ctx context.Context, storyID string, fn func(*story.Document) (*story.Document, error)) (*story.Document, contextstore.Revision, error) {
	type saved struct {
		doc *story.Document
		rev contextstore.Revision
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.commit.InitialInterval

	attempt := 0
	out, err := backoff.Retry(ctx, func() (saved, error) {
		attempt++
		cur, rev, err := s.loadOrNew(ctx, storyID)
		if err != nil {
			return saved{}, backoff.Permanent(err)
		}
		next, err := fn(cur)
		if err != nil {
			return saved{}, backoff.Permanent(err)
		}
		newRev, err := s.store.Save(ctx, next, rev)
		if errors.Is(err, domain.ErrStaleWrite) {
			if s.metrics != nil {
				s.metrics.StaleRetries.Add(ctx, 1)
			}
			slog.DebugContext(ctx, "stale write, retrying", "story_id", storyID, "attempt", attempt)
			return saved{}, err
		}
		if err != nil {
			return saved{}, backoff.Permanent(err)
		}
		return saved{doc: next, rev: newRev}, nil
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(s.commit.MaxAttempts),
		backoff.WithMaxElapsedTime(time.Minute),
	)
	if err != nil {
		return nil, 0, err
	}
	return out.doc, out.rev, nil
}

func committedPayload(doc *story.Document, rev contextstore.Revision) event.CommittedPayload {
	return event.CommittedPayload{
		CompletedPhases: doc.CompletedPhases,
		CurrentPhase:    doc.CurrentPhase,
		Revision:        uint64(rev),
	}
}
