package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/phasegate/internal/adapter/otel"
	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/event"
	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/plan"
	"github.com/Strob0t/phasegate/internal/domain/story"
	"github.com/Strob0t/phasegate/internal/domain/validation"
)

// Validate checks a candidate output for phase id against the story's plan,
// the deliverables on disk, and the configured quality checks. A failing
// candidate is not an error: the result carries the reasons. Errors are
// reserved for missing plans, unknown phases, and aborted collaborators.
func (s *StoryService) Validate(ctx context.Context, storyID string, id phase.ID, out story.Output) (res validation.Result, err error) {
	ctx, span := cfotel.StartPhaseSpan(ctx, "validate", storyID, int(id))
	defer func() { cfotel.EndSpan(span, err) }()

	if err := checkStoryID(storyID); err != nil {
		return validation.Result{}, err
	}
	if _, err := s.registry.Get(id); err != nil {
		return validation.Result{}, fmt.Errorf("validate story %s: %w", storyID, err)
	}

	start := time.Now()
	res, err = s.validate(ctx, storyID, id, out)
	if err != nil {
		if errors.Is(err, domain.ErrPhaseExecutionAborted) {
			s.aborted(ctx, storyID, id, err)
		}
		return validation.Result{}, err
	}

	if s.metrics != nil {
		attrs := metric.WithAttributes(attribute.Int("phase", int(id)), attribute.Bool("passed", res.Passed))
		s.metrics.ValidateDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		if !res.Passed {
			s.metrics.ValidationFailures.Add(ctx, 1, attrs)
		}
	}
	if !res.Passed {
		slog.InfoContext(ctx, "validation failed", "story_id", storyID, "phase", int(id), "failures", len(res.Failures))
		s.emit(ctx, storyID, event.TypePhaseValidationFailed, id, event.ValidationFailedPayload{Failures: res.Failures})
	}
	return res, nil
}

func (s *StoryService) validate(ctx context.Context, storyID string, id phase.ID, out story.Output) (validation.Result, error) {
	p, err := s.planFor(ctx, storyID)
	if err != nil {
		return validation.Result{}, err
	}

	artifacts, err := s.artifacts.ListExisting(ctx, storyID, p.For(id))
	if err != nil {
		return validation.Result{}, abortOr(ctx, fmt.Errorf("validate story %s phase %d: list deliverables: %w", storyID, id, err))
	}

	checks := validation.PassingChecks
	if s.checks != nil {
		checks, err = s.checks.RunChecks(ctx, storyID, id)
		if err != nil {
			return validation.Result{}, abortOr(ctx, fmt.Errorf("validate story %s phase %d: %w", storyID, id, err))
		}
	}

	return validation.Validate(s.registry, id, validation.Candidate{Output: out, Artifacts: artifacts}, p, checks)
}

// planFor returns the plan of storyID. A missing plan is surfaced, never
// replaced by an empty one.
func (s *StoryService) planFor(ctx context.Context, storyID string) (*plan.Document, error) {
	p, err := s.plans.GetPlan(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("plan for story %s: %w", storyID, err)
	}
	return p, nil
}

// abortOr marks err as an aborted execution when ctx ended.
func abortOr(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, domain.ErrPhaseExecutionAborted) {
		return fmt.Errorf("%w: %w", domain.ErrPhaseExecutionAborted, err)
	}
	return err
}
