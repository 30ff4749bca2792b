package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/phasegate/internal/adapter/memory"
	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/artifact"
	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/plan"
	"github.com/Strob0t/phasegate/internal/domain/progress"
	"github.com/Strob0t/phasegate/internal/domain/validation"
	"github.com/Strob0t/phasegate/internal/service"
)

type stubPlans struct{}

func (stubPlans) GetPlan(_ context.Context, storyID string) (*plan.Document, error) {
	if storyID != "US-001" {
		return nil, fmt.Errorf("story %s: %w", storyID, domain.ErrPlanNotFound)
	}
	return &plan.Document{
		StoryID: storyID,
		Phases: []plan.PhasePlan{
			{Phase: phase.UI, Deliverables: []string{"TodoList.tsx"}},
		},
	}, nil
}

// stubProber finds every deliverable.
type stubProber struct{}

func (stubProber) ListExisting(_ context.Context, _ string, pp plan.PhasePlan) ([]artifact.Artifact, error) {
	var out []artifact.Artifact
	for _, d := range pp.Deliverables {
		out = append(out, artifact.Artifact{ID: d, Size: 10})
	}
	return out, nil
}

func newTestRouter() http.Handler {
	svc := service.NewStoryService(service.StoryDeps{
		Registry:  phase.Default(),
		Store:     memory.NewStore(),
		Plans:     stubPlans{},
		Artifacts: stubProber{},
		Events:    memory.NewEventLog(),
	})
	r := chi.NewRouter()
	MountRoutes(r, &Handlers{Stories: svc, Version: "test"}, nil)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

const uiOutput = `{"output":{"components":["TodoList"]}}`

func TestHealth(t *testing.T) {
	w := do(t, newTestRouter(), http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestListPhases(t *testing.T) {
	w := do(t, newTestRouter(), http.MethodGet, "/api/v1/phases", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	defs := decode[[]phase.Definition](t, w)
	if len(defs) != phase.Count {
		t.Fatalf("expected %d phases, got %d", phase.Count, len(defs))
	}
}

func TestCanRun(t *testing.T) {
	r := newTestRouter()

	w := do(t, r, http.MethodGet, "/api/v1/stories/US-001/can-run/3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got := decode[canRunResponse](t, w)
	if got.Runnable || len(got.Missing) != 2 || got.Reason == "" {
		t.Fatalf("expected phase 3 blocked on 1 and 2, got %+v", got)
	}

	w = do(t, r, http.MethodGet, "/api/v1/stories/US-001/can-run/1", "")
	if got := decode[canRunResponse](t, w); !got.Runnable {
		t.Fatalf("expected phase 1 runnable, got %+v", got)
	}
}

func TestCanRunBadPhase(t *testing.T) {
	r := newTestRouter()
	if w := do(t, r, http.MethodGet, "/api/v1/stories/US-001/can-run/abc", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-integer phase, got %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/api/v1/stories/US-001/can-run/9", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown phase, got %d", w.Code)
	}
}

func TestValidateReportsFailuresWith200(t *testing.T) {
	w := do(t, newTestRouter(), http.MethodPost, "/api/v1/stories/US-001/validate/1", `{"output":{}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	res := decode[validation.Result](t, w)
	if res.Passed || len(res.Failures) == 0 {
		t.Fatalf("expected failing result, got %+v", res)
	}
}

func TestCommitThenGet(t *testing.T) {
	r := newTestRouter()

	w := do(t, r, http.MethodPost, "/api/v1/stories/US-001/commit/1", uiOutput)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodGet, "/api/v1/stories/US-001", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	got := decode[storyResponse](t, w)
	if got.Revision != 1 || !got.Completed().Has(phase.UI) {
		t.Fatalf("expected phase 1 committed at revision 1, got %+v", got)
	}

	w = do(t, r, http.MethodGet, "/api/v1/stories", "")
	if ids := decode[[]string](t, w); len(ids) != 1 || ids[0] != "US-001" {
		t.Fatalf("expected [US-001], got %v", ids)
	}

	w = do(t, r, http.MethodGet, "/api/v1/stories/US-001/events?limit=10", "")
	if !strings.Contains(w.Body.String(), `"phase.committed"`) {
		t.Fatalf("expected committed event, got %s", w.Body.String())
	}
}

func TestCommitInvalidIs422(t *testing.T) {
	w := do(t, newTestRouter(), http.MethodPost, "/api/v1/stories/US-001/commit/1", `{"output":{}}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	if body := decode[errorResponse](t, w); len(body.Failures) == 0 {
		t.Fatalf("expected failures in body, got %+v", body)
	}
}

func TestCommitBlockedIs409(t *testing.T) {
	w := do(t, newTestRouter(), http.MethodPost, "/api/v1/stories/US-001/commit/2", `{"output":{"sharedTypes":["Todo"],"endpoints":["GET /todos"]}}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if body := decode[errorResponse](t, w); len(body.Missing) != 1 || body.Missing[0] != phase.UI {
		t.Fatalf("expected missing [1], got %+v", body)
	}
}

func TestCommitBadBody(t *testing.T) {
	w := do(t, newTestRouter(), http.MethodPost, "/api/v1/stories/US-001/commit/1", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetMissingStoryIs404(t *testing.T) {
	w := do(t, newTestRouter(), http.MethodGet, "/api/v1/stories/US-404", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestProgress(t *testing.T) {
	r := newTestRouter()
	w := do(t, r, http.MethodGet, "/api/v1/stories/US-001/progress", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	v := decode[progress.View](t, w)
	if v.NextAction.Kind != progress.ActionValidate || v.NextAction.Phase != phase.UI {
		t.Fatalf("expected validate phase 1, got %+v", v.NextAction)
	}

	if w := do(t, r, http.MethodGet, "/api/v1/stories/US-404/progress", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing plan, got %d", w.Code)
	}
}

func TestReady(t *testing.T) {
	w := do(t, newTestRouter(), http.MethodGet, "/api/v1/stories/US-001/ready", "")
	got := decode[map[string][]phase.ID](t, w)
	if len(got["ready"]) != 1 || got["ready"][0] != phase.UI {
		t.Fatalf("expected [1], got %v", got)
	}
}

func TestRunWithoutAgentIs503(t *testing.T) {
	w := do(t, newTestRouter(), http.MethodPost, "/api/v1/stories/US-001/run/1", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestMergeConflictIs409(t *testing.T) {
	r := newTestRouter()
	do(t, r, http.MethodPost, "/api/v1/stories/US-001/commit/1", uiOutput)

	track := `{"storyId":"US-001","currentPhase":2,"completedPhases":[1],"phaseOutputs":{"1":{"components":["Other"]}}}`
	w := do(t, r, http.MethodPost, "/api/v1/stories/US-001/merge", track)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if body := decode[errorResponse](t, w); len(body.Conflicts) != 1 {
		t.Fatalf("expected one conflicting phase, got %+v", body)
	}
}

func TestEventsBadLimit(t *testing.T) {
	w := do(t, newTestRouter(), http.MethodGet, "/api/v1/stories/US-001/events?limit=x", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestMergeUnclosedTrackIs409(t *testing.T) {
	track := `{"storyId":"US-001","currentPhase":3,"completedPhases":[2],"phaseOutputs":{"2":{"sharedTypes":["Todo"],"endpoints":["GET /todos"]}}}`
	w := do(t, newTestRouter(), http.MethodPost, "/api/v1/stories/US-001/merge", track)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	body := decode[errorResponse](t, w)
	if len(body.Missing) != 1 || body.Missing[0] != phase.UI || !strings.Contains(body.Error, "prerequisite phase 1") {
		t.Fatalf("expected itemized missing [1], got %+v", body)
	}
}

func TestWriteDomainErrorBareSentinels(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("story US-001: %w", domain.ErrPrerequisiteViolation),
		fmt.Errorf("story US-001: %w", domain.ErrContextConflict),
	} {
		w := httptest.NewRecorder()
		writeDomainError(w, err)
		if w.Code != http.StatusConflict {
			t.Fatalf("%v: expected 409, got %d", err, w.Code)
		}
		if body := decode[errorResponse](t, w); body.Error != err.Error() {
			t.Fatalf("expected the reason in the body, got %+v", body)
		}
	}
}
