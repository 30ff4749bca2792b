package planfile_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Strob0t/phasegate/internal/adapter/planfile"
	"github.com/Strob0t/phasegate/internal/adapter/ristretto"
	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/plan"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestGetPlan_Formats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "US-001.yaml"), "phases:\n  - phase: 1\n    deliverables: [a.tsx]\n")
	writeFile(t, filepath.Join(dir, "US-002", "plan.md"), "## Phase 2: API\n- [ ] api.ts\n")

	p := planfile.New(dir)
	ctx := context.Background()

	doc, err := p.GetPlan(ctx, "US-001")
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.For(phase.UI).Deliverables; len(got) != 1 || got[0] != "a.tsx" {
		t.Fatalf("unexpected deliverables %v", got)
	}

	doc, err = p.GetPlan(ctx, "US-002")
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.For(phase.APIClient).Deliverables; len(got) != 1 || got[0] != "api.ts" {
		t.Fatalf("unexpected deliverables %v", got)
	}
}

func TestGetPlan_NotFound(t *testing.T) {
	_, err := planfile.New(t.TempDir()).GetPlan(context.Background(), "US-404")
	if !errors.Is(err, domain.ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestGetPlan_StoryMismatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "US-003.yaml"), "story_id: US-999\nphases: []\n")
	_, err := planfile.New(dir).GetPlan(context.Background(), "US-003")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

type countingProvider struct {
	calls int
	doc   *plan.Document
	err   error
}

func (c *countingProvider) GetPlan(_ context.Context, _ string) (*plan.Document, error) {
	c.calls++
	return c.doc, c.err
}

func TestCached(t *testing.T) {
	l1, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(l1.Close)

	next := &countingProvider{doc: &plan.Document{StoryID: "US-001", Phases: []plan.PhasePlan{{Phase: 1, Deliverables: []string{"a"}}}}}
	c := planfile.NewCached(next, l1, time.Minute)
	ctx := context.Background()

	for range 3 {
		doc, err := c.GetPlan(ctx, "US-001")
		if err != nil {
			t.Fatal(err)
		}
		if doc.For(phase.UI).Deliverables[0] != "a" {
			t.Fatalf("unexpected plan %+v", doc)
		}
	}
	if next.calls != 1 {
		t.Fatalf("expected 1 underlying call, got %d", next.calls)
	}

	if err := c.Invalidate(ctx, "US-001"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetPlan(ctx, "US-001"); err != nil {
		t.Fatal(err)
	}
	if next.calls != 2 {
		t.Fatalf("expected reload after invalidate, got %d calls", next.calls)
	}
}

func TestCached_DoesNotCacheMisses(t *testing.T) {
	l1, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(l1.Close)

	next := &countingProvider{err: domain.ErrPlanNotFound}
	c := planfile.NewCached(next, l1, time.Minute)
	for range 2 {
		if _, err := c.GetPlan(context.Background(), "US-404"); !errors.Is(err, domain.ErrPlanNotFound) {
			t.Fatalf("expected ErrPlanNotFound, got %v", err)
		}
	}
	if next.calls != 2 {
		t.Fatalf("expected misses to reach the provider, got %d calls", next.calls)
	}
}
