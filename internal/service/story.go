package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	cfotel "github.com/Strob0t/phasegate/internal/adapter/otel"
	"github.com/Strob0t/phasegate/internal/config"
	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/story"
	"github.com/Strob0t/phasegate/internal/port/agent"
	"github.com/Strob0t/phasegate/internal/port/artifactprobe"
	"github.com/Strob0t/phasegate/internal/port/broadcast"
	"github.com/Strob0t/phasegate/internal/port/contextstore"
	"github.com/Strob0t/phasegate/internal/port/eventstore"
	"github.com/Strob0t/phasegate/internal/port/messagequeue"
	"github.com/Strob0t/phasegate/internal/port/planprovider"
	"github.com/Strob0t/phasegate/internal/port/qualitycheck"
)

// StoryDeps collects the collaborators of a StoryService. Registry, Store,
// Plans and Artifacts are required; the rest are optional.
type StoryDeps struct {
	Registry  *phase.Registry
	Store     contextstore.Store
	Plans     planprovider.Provider
	Artifacts artifactprobe.Prober
	Checks    qualitycheck.Runner
	Agent     agent.Executor
	Queue     messagequeue.Queue
	Hub       broadcast.Broadcaster
	Events    eventstore.Store
	Metrics   *cfotel.Metrics
	Commit    config.Commit
}

// StoryService drives stories through the phase pipeline: it gates runs on
// prerequisites, validates candidate outputs, and commits them to the
// context store.
type StoryService struct {
	registry  *phase.Registry
	store     contextstore.Store
	plans     planprovider.Provider
	artifacts artifactprobe.Prober
	checks    qualitycheck.Runner
	agent     agent.Executor
	queue     messagequeue.Queue
	hub       broadcast.Broadcaster
	events    eventstore.Store
	metrics   *cfotel.Metrics
	commit    config.Commit
}

// NewStoryService creates a StoryService.
func NewStoryService(deps StoryDeps) *StoryService {
	c := deps.Commit
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 50 * time.Millisecond
	}
	return &StoryService{
		registry:  deps.Registry,
		store:     deps.Store,
		plans:     deps.Plans,
		artifacts: deps.Artifacts,
		checks:    deps.Checks,
		agent:     deps.Agent,
		queue:     deps.Queue,
		hub:       deps.Hub,
		events:    deps.Events,
		metrics:   deps.Metrics,
		commit:    c,
	}
}

// Registry returns the phase registry the service gates against.
func (s *StoryService) Registry() *phase.Registry { return s.registry }

// Get returns the stored document for storyID and its revision. It fails
// with domain.ErrNotFound when the story has no document yet.
func (s *StoryService) Get(ctx context.Context, storyID string) (*story.Document, contextstore.Revision, error) {
	if err := checkStoryID(storyID); err != nil {
		return nil, 0, err
	}
	doc, rev, err := s.store.Load(ctx, storyID)
	if err != nil {
		return nil, 0, fmt.Errorf("get story %s: %w", storyID, err)
	}
	return doc, rev, nil
}

// List returns the ids of all stored stories.
func (s *StoryService) List(ctx context.Context) ([]string, error) {
	ids, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	return ids, nil
}

// CanRun reports whether phase id may run for storyID. A story without a
// document has no completed phases.
func (s *StoryService) CanRun(ctx context.Context, storyID string, id phase.ID) (phase.Decision, error) {
	doc, _, err := s.loadOrNew(ctx, storyID)
	if err != nil {
		return phase.Decision{}, err
	}
	d, err := phase.CanRun(s.registry, id, doc.Completed())
	if err != nil {
		return phase.Decision{}, fmt.Errorf("can run story %s: %w", storyID, err)
	}
	return d, nil
}

// Ready returns every phase that is not complete and whose prerequisites
// are, in ascending order. Phases on independent tracks appear together.
func (s *StoryService) Ready(ctx context.Context, storyID string) ([]phase.ID, error) {
	doc, _, err := s.loadOrNew(ctx, storyID)
	if err != nil {
		return nil, err
	}
	return phase.Ready(s.registry, doc.Completed()), nil
}

func (s *StoryService) loadOrNew(ctx context.Context, storyID string) (*story.Document, contextstore.Revision, error) {
	if err := checkStoryID(storyID); err != nil {
		return nil, 0, err
	}
	doc, rev, err := s.store.Load(ctx, storyID)
	if errors.Is(err, domain.ErrNotFound) {
		return story.New(storyID), 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load story %s: %w", storyID, err)
	}
	return doc, rev, nil
}

func checkStoryID(storyID string) error {
	if strings.TrimSpace(storyID) == "" {
		return fmt.Errorf("%w: story id is required", domain.ErrValidation)
	}
	return nil
}
