package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/phasegate/internal/adapter/memory"
	"github.com/Strob0t/phasegate/internal/config"
	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/artifact"
	"github.com/Strob0t/phasegate/internal/domain/event"
	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/plan"
	"github.com/Strob0t/phasegate/internal/domain/progress"
	"github.com/Strob0t/phasegate/internal/domain/story"
	"github.com/Strob0t/phasegate/internal/domain/validation"
	"github.com/Strob0t/phasegate/internal/port/agent"
	"github.com/Strob0t/phasegate/internal/port/contextstore"
	"github.com/Strob0t/phasegate/internal/port/messagequeue"
	"github.com/Strob0t/phasegate/internal/service"
)

// --- mocks ---

type mockPlans struct {
	plans map[string]*plan.Document
}

func (m *mockPlans) GetPlan(_ context.Context, storyID string) (*plan.Document, error) {
	p, ok := m.plans[storyID]
	if !ok {
		return nil, fmt.Errorf("story %s: %w", storyID, domain.ErrPlanNotFound)
	}
	return p, nil
}

// mockProber reports every declared deliverable as present unless listed in
// missing.
type mockProber struct {
	mu      sync.Mutex
	missing map[string]bool
	err     error
}

func (m *mockProber) ListExisting(_ context.Context, _ string, pp plan.PhasePlan) ([]artifact.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []artifact.Artifact
	for _, d := range pp.Deliverables {
		if !m.missing[d] {
			out = append(out, artifact.Artifact{ID: d, Size: 64})
		}
	}
	return out, nil
}

type mockChecks struct {
	mu     sync.Mutex
	calls  []phase.ID
	report validation.CheckReport
	err    error
}

func (m *mockChecks) RunChecks(_ context.Context, _ string, id phase.ID) (validation.CheckReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, id)
	if m.err != nil {
		return validation.CheckReport{}, m.err
	}
	if m.report.Passed || len(m.report.Reasons) > 0 {
		return m.report, nil
	}
	return validation.PassingChecks, nil
}

type mockAgent struct {
	mu       sync.Mutex
	requests []agent.Request
	err      error
}

func (m *mockAgent) Name() string { return "mock" }

func (m *mockAgent) Execute(_ context.Context, req agent.Request) (story.Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return outputFor(req.Phase.ID), nil
}

type broadcastCall struct {
	eventType string
	payload   any
}

type mockHub struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (m *mockHub) BroadcastEvent(_ context.Context, eventType string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, broadcastCall{eventType, payload})
}

func (m *mockHub) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.eventType
	}
	return out
}

type publishedMsg struct {
	subject string
	data    []byte
}

type mockQueue struct {
	mu        sync.Mutex
	published []publishedMsg
	handler   messagequeue.Handler
}

func (m *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMsg{subject, data})
	return nil
}

func (m *mockQueue) Subscribe(_ context.Context, _ string, h messagequeue.Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
	return func() {}, nil
}

func (m *mockQueue) Drain() error      { return nil }
func (m *mockQueue) Close() error      { return nil }
func (m *mockQueue) IsConnected() bool { return true }

// staleStore fails the first n saves with ErrStaleWrite.
type staleStore struct {
	*memory.Store
	mu    sync.Mutex
	n     int
	saves int
}

func (s *staleStore) Save(ctx context.Context, doc *story.Document, expected contextstore.Revision) (contextstore.Revision, error) {
	s.mu.Lock()
	s.saves++
	fail := s.saves <= s.n
	s.mu.Unlock()
	if fail {
		return 0, domain.ErrStaleWrite
	}
	return s.Store.Save(ctx, doc, expected)
}

// --- fixtures ---

func todoPlan() *plan.Document {
	return &plan.Document{
		StoryID: "US-001",
		Title:   "Todo CRUD",
		Phases: []plan.PhasePlan{
			{Phase: phase.UI, Deliverables: []string{"TodoList.tsx", "TodoForm.tsx"}},
			{Phase: phase.APIClient, Deliverables: []string{"todo.types.ts", "todos.ts"}},
			{Phase: phase.Wiring, Deliverables: []string{"useTodos.ts"}},
			{Phase: phase.Repository, Deliverables: []string{"todo.repository.ts"}},
			{Phase: phase.Service, Deliverables: []string{"todo.service.ts"}},
			{Phase: phase.Controller, Deliverables: []string{"todo.controller.ts"}},
			{Phase: phase.Integration, Deliverables: []string{"todo.e2e.ts"}},
		},
	}
}

func outputFor(id phase.ID) story.Output {
	switch id {
	case phase.UI:
		return story.Output{"components": []any{"TodoList", "TodoForm"}}
	case phase.APIClient:
		return story.Output{"sharedTypes": []any{"Todo"}, "endpoints": []any{"GET /todos", "POST /todos"}}
	case phase.Wiring:
		return story.Output{"hooks": []any{"useTodos"}}
	case phase.Repository:
		return story.Output{"tables": []any{"todos"}, "repositories": []any{"TodoRepository"}}
	case phase.Service:
		return story.Output{"services": []any{"TodoService"}}
	case phase.Controller:
		return story.Output{"endpoints": []any{"GET /todos", "POST /todos"}}
	default:
		return story.Output{"testSuites": []any{"todo.e2e"}}
	}
}

type fixture struct {
	svc    *service.StoryService
	store  contextstore.Store
	prober *mockProber
	checks *mockChecks
	agent  *mockAgent
	hub    *mockHub
	events *memory.EventLog
}

func newFixture(t *testing.T, mutate ...func(*service.StoryDeps)) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.NewStore(),
		prober: &mockProber{},
		checks: &mockChecks{},
		agent:  &mockAgent{},
		hub:    &mockHub{},
		events: memory.NewEventLog(),
	}
	deps := service.StoryDeps{
		Registry:  phase.Default(),
		Store:     f.store,
		Plans:     &mockPlans{plans: map[string]*plan.Document{"US-001": todoPlan()}},
		Artifacts: f.prober,
		Checks:    f.checks,
		Agent:     f.agent,
		Hub:       f.hub,
		Events:    f.events,
		Commit:    config.Commit{MaxAttempts: 3, InitialInterval: time.Millisecond},
	}
	for _, m := range mutate {
		m(&deps)
	}
	f.store = deps.Store
	f.svc = service.NewStoryService(deps)
	return f
}

func (f *fixture) commit(t *testing.T, ids ...phase.ID) *story.Document {
	t.Helper()
	var doc *story.Document
	for _, id := range ids {
		var err error
		doc, err = f.svc.Commit(context.Background(), "US-001", id, outputFor(id))
		if err != nil {
			t.Fatalf("commit phase %d: %v", id, err)
		}
	}
	return doc
}

// --- tests ---

func TestStoryService_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.commit(t, phase.UI, phase.APIClient)

	ready, err := f.svc.Ready(ctx, "US-001")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(ready, []phase.ID{phase.Wiring, phase.Repository}) {
		t.Fatalf("expected tracks 3 and 4 ready, got %v", ready)
	}

	// Backend track first, then the frontend wiring.
	f.commit(t, phase.Repository, phase.Service, phase.Controller, phase.Wiring)

	f.prober.missing = map[string]bool{"todo.e2e.ts": true}
	v, err := f.svc.Project(ctx, "US-001")
	if err != nil {
		t.Fatal(err)
	}
	if v.Completed != 6 || v.NextAction.Kind != progress.ActionRun || v.NextAction.Phase != phase.Integration {
		t.Fatalf("expected run phase 7, got %+v", v.NextAction)
	}

	// The integration suite appears on disk: validate before committing.
	f.prober.missing = nil
	v, err = f.svc.Project(ctx, "US-001")
	if err != nil {
		t.Fatal(err)
	}
	if v.NextAction.Kind != progress.ActionValidate || v.NextAction.Phase != phase.Integration {
		t.Fatalf("expected validate phase 7, got %+v", v.NextAction)
	}

	doc := f.commit(t, phase.Integration)
	if doc.CurrentPhase != phase.Done {
		t.Fatalf("expected current phase %d, got %d", phase.Done, doc.CurrentPhase)
	}
	v, err = f.svc.Project(ctx, "US-001")
	if err != nil {
		t.Fatal(err)
	}
	if v.NextAction.Kind != progress.ActionShip || v.CompletionFraction != 1 {
		t.Fatalf("expected ship, got %+v", v)
	}

	evs, err := f.svc.Events(ctx, "US-001", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 7 || evs[6].Type != event.TypePhaseCommitted || evs[6].Phase != phase.Integration {
		t.Fatalf("expected 7 commit events, got %d", len(evs))
	}
	if got := f.hub.types(); len(got) != 7 {
		t.Fatalf("expected 7 broadcasts, got %v", got)
	}
}

func TestStoryService_CommitBlockedSkipsChecks(t *testing.T) {
	f := newFixture(t)
	f.commit(t, phase.UI)

	_, err := f.svc.Commit(context.Background(), "US-001", phase.Repository, outputFor(phase.Repository))
	var pv *story.PrerequisiteViolationError
	if !errors.As(err, &pv) || !errors.Is(err, domain.ErrPrerequisiteViolation) {
		t.Fatalf("expected prerequisite violation, got %v", err)
	}
	if !slices.Equal(pv.Decision.Missing, []phase.ID{phase.APIClient}) {
		t.Fatalf("expected missing [2], got %v", pv.Decision.Missing)
	}
	if slices.Contains(f.checks.calls, phase.Repository) {
		t.Fatal("quality checks ran for a blocked phase")
	}
}

func TestStoryService_CommitValidationFailureLeavesStore(t *testing.T) {
	f := newFixture(t)
	f.prober.missing = map[string]bool{"TodoForm.tsx": true}

	_, err := f.svc.Commit(context.Background(), "US-001", phase.UI, outputFor(phase.UI))
	var fe *validation.FailedError
	if !errors.As(err, &fe) || !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if len(fe.Result.Failures) != 1 || fe.Result.Failures[0] != "1 of 2 declared deliverables missing: TodoForm.tsx" {
		t.Fatalf("unexpected failures %v", fe.Result.Failures)
	}
	if _, _, err := f.store.Load(context.Background(), "US-001"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected no document, got %v", err)
	}
	if got := f.hub.types(); !slices.Equal(got, []string{"phase.validation_failed"}) {
		t.Fatalf("expected validation_failed event, got %v", got)
	}
}

func TestStoryService_QualityFailureFolded(t *testing.T) {
	f := newFixture(t)
	f.checks.report = validation.CheckReport{Passed: false, Reasons: []string{"npm test: exit status 1"}}

	res, err := f.svc.Validate(context.Background(), "US-001", phase.UI, outputFor(phase.UI))
	if err != nil {
		t.Fatal(err)
	}
	if res.Passed || !slices.Equal(res.Failures, []string{"quality check: npm test: exit status 1"}) {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestStoryService_PlanNotFoundSurfaced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Validate(ctx, "US-404", phase.UI, outputFor(phase.UI)); !errors.Is(err, domain.ErrPlanNotFound) {
		t.Fatalf("validate: expected ErrPlanNotFound, got %v", err)
	}
	if _, err := f.svc.Project(ctx, "US-404"); !errors.Is(err, domain.ErrPlanNotFound) {
		t.Fatalf("project: expected ErrPlanNotFound, got %v", err)
	}
	if _, err := f.svc.Run(ctx, "US-404", phase.UI); !errors.Is(err, domain.ErrPlanNotFound) {
		t.Fatalf("run: expected ErrPlanNotFound, got %v", err)
	}
	if len(f.agent.requests) != 0 {
		t.Fatal("agent ran without a plan")
	}
}

func TestStoryService_UnknownPhase(t *testing.T) {
	f := newFixture(t)
	for _, id := range []phase.ID{0, 8} {
		if _, err := f.svc.CanRun(context.Background(), "US-001", id); !errors.Is(err, domain.ErrUnknownPhase) {
			t.Fatalf("phase %d: expected ErrUnknownPhase, got %v", id, err)
		}
	}
}

func TestStoryService_EmptyStoryID(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Ready(context.Background(), " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestStoryService_StaleWriteRetried(t *testing.T) {
	stale := &staleStore{Store: memory.NewStore(), n: 2}
	f := newFixture(t, func(d *service.StoryDeps) { d.Store = stale })

	doc := f.commit(t, phase.UI)
	if !doc.IsComplete(phase.UI) {
		t.Fatal("expected phase 1 committed after retries")
	}
	if stale.saves != 3 {
		t.Fatalf("expected 3 save attempts, got %d", stale.saves)
	}
}

func TestStoryService_StaleWriteSurfaced(t *testing.T) {
	stale := &staleStore{Store: memory.NewStore(), n: 10}
	f := newFixture(t, func(d *service.StoryDeps) { d.Store = stale })

	_, err := f.svc.Commit(context.Background(), "US-001", phase.UI, outputFor(phase.UI))
	if !errors.Is(err, domain.ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}
	if stale.saves != 3 {
		t.Fatalf("expected 3 save attempts, got %d", stale.saves)
	}
}

func TestStoryService_ConcurrentCommitsBothLand(t *testing.T) {
	f := newFixture(t)
	f.commit(t, phase.UI, phase.APIClient)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []phase.ID{phase.Wiring, phase.Repository} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Commit(context.Background(), "US-001", id, outputFor(id))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	doc, _, err := f.svc.Get(context.Background(), "US-001")
	if err != nil {
		t.Fatal(err)
	}
	if !doc.IsComplete(phase.Wiring) || !doc.IsComplete(phase.Repository) {
		t.Fatalf("expected both tracks committed, got %v", doc.CompletedPhases)
	}
}

func TestStoryService_RunPassesPrerequisiteOutputs(t *testing.T) {
	f := newFixture(t)
	f.commit(t, phase.UI, phase.APIClient, phase.Wiring)

	doc, err := f.svc.Run(context.Background(), "US-001", phase.Repository)
	if err != nil {
		t.Fatal(err)
	}
	if !doc.IsComplete(phase.Repository) {
		t.Fatal("expected phase 4 committed")
	}

	req := f.agent.requests[0]
	if req.Phase.ID != phase.Repository || !slices.Equal(req.Plan.Deliverables, []string{"todo.repository.ts"}) {
		t.Fatalf("unexpected request %+v", req)
	}
	if _, ok := req.Prior[phase.APIClient]; !ok || len(req.Prior) != 1 {
		t.Fatalf("expected only the phase 2 output, got %v", req.Prior)
	}
}

func TestStoryService_RunBlockedNeverCallsAgent(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Run(context.Background(), "US-001", phase.Integration)
	if !errors.Is(err, domain.ErrPrerequisiteViolation) {
		t.Fatalf("expected prerequisite violation, got %v", err)
	}
	if len(f.agent.requests) != 0 {
		t.Fatal("agent ran for a blocked phase")
	}
}

func TestStoryService_RunAbortLeavesDocument(t *testing.T) {
	f := newFixture(t)
	f.commit(t, phase.UI)
	f.agent.err = fmt.Errorf("agent: %w", domain.ErrPhaseExecutionAborted)

	_, err := f.svc.Run(context.Background(), "US-001", phase.APIClient)
	if !errors.Is(err, domain.ErrPhaseExecutionAborted) {
		t.Fatalf("expected ErrPhaseExecutionAborted, got %v", err)
	}
	doc, _, _ := f.svc.Get(context.Background(), "US-001")
	if doc.IsComplete(phase.APIClient) {
		t.Fatal("aborted run changed the document")
	}
	if got := f.hub.types(); got[len(got)-1] != "phase.aborted" {
		t.Fatalf("expected phase.aborted event, got %v", got)
	}
}

func TestStoryService_CancelledChecksAbort(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.checks.err = errors.New("signal: killed")
	cancel()

	_, err := f.svc.Validate(ctx, "US-001", phase.UI, outputFor(phase.UI))
	if !errors.Is(err, domain.ErrPhaseExecutionAborted) {
		t.Fatalf("expected ErrPhaseExecutionAborted, got %v", err)
	}
}

func TestStoryService_CancelledProjectionAborts(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.prober.err = context.Canceled
	cancel()

	_, err := f.svc.Project(ctx, "US-001")
	if !errors.Is(err, domain.ErrPhaseExecutionAborted) {
		t.Fatalf("expected ErrPhaseExecutionAborted, got %v", err)
	}
}

func TestStoryService_ProjectionProberFailure(t *testing.T) {
	f := newFixture(t)
	f.prober.err = errors.New("permission denied")

	_, err := f.svc.Project(context.Background(), "US-001")
	if err == nil || errors.Is(err, domain.ErrPhaseExecutionAborted) {
		t.Fatalf("expected a plain prober failure, got %v", err)
	}
}

func TestStoryService_MergeUnclosedTrackRejected(t *testing.T) {
	f := newFixture(t)
	track := &story.Document{
		StoryID:         "US-001",
		CompletedPhases: []phase.ID{phase.APIClient},
		PhaseOutputs:    map[phase.ID]story.Output{phase.APIClient: outputFor(phase.APIClient)},
	}

	_, err := f.svc.Merge(context.Background(), "US-001", track)
	var pv *story.PrerequisiteViolationError
	if !errors.As(err, &pv) || len(pv.Decision.Missing) != 1 || pv.Decision.Missing[0] != phase.UI {
		t.Fatalf("expected prerequisite violation missing [1], got %v", err)
	}
	if _, _, err := f.store.Load(context.Background(), "US-001"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected nothing persisted, got %v", err)
	}
}

func TestStoryService_RunWithoutAgent(t *testing.T) {
	f := newFixture(t, func(d *service.StoryDeps) { d.Agent = nil })
	if _, err := f.svc.Run(context.Background(), "US-001", phase.UI); !errors.Is(err, service.ErrNoAgent) {
		t.Fatalf("expected ErrNoAgent, got %v", err)
	}
}

func TestStoryService_MergeTracks(t *testing.T) {
	f := newFixture(t)
	base := f.commit(t, phase.UI, phase.APIClient)

	// The backend track evolved a copy of the document elsewhere.
	backend, err := story.Commit(phase.Default(), base, phase.Repository, outputFor(phase.Repository))
	if err != nil {
		t.Fatal(err)
	}
	f.commit(t, phase.Wiring)

	merged, err := f.svc.Merge(context.Background(), "US-001", backend)
	if err != nil {
		t.Fatal(err)
	}
	want := []phase.ID{phase.UI, phase.APIClient, phase.Wiring, phase.Repository}
	if !slices.Equal(merged.CompletedPhases, want) {
		t.Fatalf("expected %v, got %v", want, merged.CompletedPhases)
	}
	if got := f.hub.types(); got[len(got)-1] != "story.merged" {
		t.Fatalf("expected story.merged event, got %v", got)
	}
}

func TestStoryService_MergeConflictPersistsNothing(t *testing.T) {
	f := newFixture(t)
	base := f.commit(t, phase.UI)

	other, err := story.Commit(phase.Default(), base, phase.APIClient, story.Output{
		"sharedTypes": []any{"TodoItem"}, "endpoints": []any{"GET /items"},
	})
	if err != nil {
		t.Fatal(err)
	}
	f.commit(t, phase.APIClient)
	_, rev, _ := f.svc.Get(context.Background(), "US-001")

	_, err = f.svc.Merge(context.Background(), "US-001", other)
	var ce *story.ContextConflictError
	if !errors.As(err, &ce) || !errors.Is(err, domain.ErrContextConflict) {
		t.Fatalf("expected context conflict, got %v", err)
	}
	if _, after, _ := f.svc.Get(context.Background(), "US-001"); after != rev {
		t.Fatalf("expected revision %d unchanged, got %d", rev, after)
	}
}

func TestStoryService_MergeRejectsOtherStory(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Merge(context.Background(), "US-001", story.New("US-002")); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestStoryService_MergeIntoAbsentAdopts(t *testing.T) {
	f := newFixture(t)
	doc, err := story.Commit(phase.Default(), story.New("US-001"), phase.UI, outputFor(phase.UI))
	if err != nil {
		t.Fatal(err)
	}
	merged, err := f.svc.Merge(context.Background(), "US-001", doc)
	if err != nil {
		t.Fatal(err)
	}
	if !merged.IsComplete(phase.UI) {
		t.Fatal("expected adopted document")
	}
}

func TestStoryService_QueuePublishAndRelay(t *testing.T) {
	q := &mockQueue{}
	f := newFixture(t, func(d *service.StoryDeps) { d.Queue = q })
	ctx := context.Background()

	f.commit(t, phase.UI)
	if len(f.hub.types()) != 0 {
		t.Fatal("with a queue the hub is reached through the relay only")
	}
	if len(q.published) != 1 || q.published[0].subject != "phasegate.events.phase.committed" {
		t.Fatalf("unexpected publications %+v", q.published)
	}

	cancel, err := f.svc.Relay(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()
	if err := q.handler(ctx, q.published[0].subject, q.published[0].data); err != nil {
		t.Fatal(err)
	}
	if got := f.hub.types(); !slices.Equal(got, []string{"phase.committed"}) {
		t.Fatalf("expected relayed commit, got %v", got)
	}
	ev, ok := f.hub.calls[0].payload.(event.PhaseEvent)
	if !ok || ev.StoryID != "US-001" {
		t.Fatalf("unexpected relayed payload %#v", f.hub.calls[0].payload)
	}
	var p event.CommittedPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.Revision != 1 {
		t.Fatalf("unexpected payload %s: %v", ev.Payload, err)
	}
}
