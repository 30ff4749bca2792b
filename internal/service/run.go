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
	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/story"
	"github.com/Strob0t/phasegate/internal/port/agent"
)

// ErrNoAgent is returned by Run when no executor is configured.
var ErrNoAgent = errors.New("no agent executor configured")

// Run performs phase id end to end: it checks prerequisites, hands the
// phase to the agent together with its plan and the outputs of its
// prerequisites, then validates and commits the returned output. A blocked
// phase never reaches the agent.
func (s *StoryService) Run(ctx context.Context, storyID string, id phase.ID) (doc *story.Document, err error) {
	ctx, span := cfotel.StartPhaseSpan(ctx, "run", storyID, int(id))
	defer func() { cfotel.EndSpan(span, err) }()

	if s.agent == nil {
		return nil, ErrNoAgent
	}

	cur, _, err := s.loadOrNew(ctx, storyID)
	if err != nil {
		return nil, err
	}
	def, err := s.registry.Get(id)
	if err != nil {
		return nil, fmt.Errorf("run story %s: %w", storyID, err)
	}
	d, err := phase.CanRun(s.registry, id, cur.Completed())
	if err != nil {
		return nil, fmt.Errorf("run story %s: %w", storyID, err)
	}
	if !d.Runnable {
		return nil, &story.PrerequisiteViolationError{StoryID: storyID, Decision: d}
	}

	p, err := s.planFor(ctx, storyID)
	if err != nil {
		return nil, err
	}

	prior := make(map[phase.ID]story.Output, len(def.Prerequisites))
	for _, pre := range def.Prerequisites {
		if out, ok := cur.PhaseOutputs[pre]; ok {
			prior[pre] = out
		}
	}

	start := time.Now()
	out, err := s.agent.Execute(ctx, agent.Request{
		StoryID: storyID,
		Phase:   def,
		Plan:    p.For(id),
		Prior:   prior,
	})
	if s.metrics != nil {
		s.metrics.RunDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.Int("phase", int(id)),
			attribute.String("executor", s.agent.Name()),
		))
	}
	if err != nil {
		err = abortOr(ctx, err)
		if errors.Is(err, domain.ErrPhaseExecutionAborted) {
			s.aborted(ctx, storyID, id, err)
		}
		return nil, fmt.Errorf("run story %s phase %d: %w", storyID, id, err)
	}
	slog.InfoContext(ctx, "agent finished", "story_id", storyID, "phase", int(id),
		"executor", s.agent.Name(), "duration_ms", time.Since(start).Milliseconds())

	return s.Commit(ctx, storyID, id, out)
}
