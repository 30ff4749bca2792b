package phase_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/phase"
)

func TestRegistry_GetUnknownPhase(t *testing.T) {
	reg := phase.Default()
	for _, id := range []phase.ID{0, -1, 8, 42} {
		if _, err := reg.Get(id); !errors.Is(err, domain.ErrUnknownPhase) {
			t.Fatalf("Get(%d): expected ErrUnknownPhase, got %v", id, err)
		}
	}
}

func TestRegistry_AllAscending(t *testing.T) {
	defs := phase.Default().All()
	if len(defs) != phase.Count {
		t.Fatalf("expected %d definitions, got %d", phase.Count, len(defs))
	}
	for i, d := range defs {
		if d.ID != phase.ID(i+1) {
			t.Fatalf("definition %d has id %d", i, d.ID)
		}
		if d.Title == "" || d.Slug == "" {
			t.Fatalf("phase %d missing title or slug", d.ID)
		}
	}
}

func TestRegistry_PrerequisiteTable(t *testing.T) {
	want := map[phase.ID][]phase.ID{
		1: nil,
		2: {1},
		3: {1, 2},
		4: {2},
		5: {4},
		6: {5},
		7: {1, 2, 3, 4, 5, 6},
	}
	reg := phase.Default()
	for id, prereqs := range want {
		d, err := reg.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(d.Prerequisites, prereqs) {
			t.Fatalf("phase %d: expected prerequisites %v, got %v", id, prereqs, d.Prerequisites)
		}
	}
}

func TestRegistry_DefinitionsAreCopies(t *testing.T) {
	reg := phase.Default()
	d, _ := reg.Get(phase.Integration)
	d.Prerequisites[0] = 99
	again, _ := reg.Get(phase.Integration)
	if again.Prerequisites[0] != phase.UI {
		t.Fatal("mutating a returned definition changed the registry")
	}
}

func TestCanRun_Table(t *testing.T) {
	reg := phase.Default()
	tests := []struct {
		name      string
		id        phase.ID
		completed phase.Set
		runnable  bool
		missing   []phase.ID
	}{
		{"phase 1 always runnable", phase.UI, phase.NewSet(), true, nil},
		{"phase 2 needs 1", phase.APIClient, phase.NewSet(), false, []phase.ID{1}},
		{"phase 3 missing both", phase.Wiring, phase.NewSet(), false, []phase.ID{1, 2}},
		{"phase 4 needs only 2", phase.Repository, phase.NewSet(1, 2), true, nil},
		{"phase 4 ignores 3", phase.Repository, phase.NewSet(2), true, nil},
		{"phase 4 blocked without 2", phase.Repository, phase.NewSet(1, 3), false, []phase.ID{2}},
		{"phase 7 sink", phase.Integration, phase.NewSet(1, 2, 4), false, []phase.ID{3, 5, 6}},
		{"re-run of done phase", phase.UI, phase.NewSet(1, 2, 3), true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := phase.CanRun(reg, tt.id, tt.completed)
			if err != nil {
				t.Fatal(err)
			}
			if d.Runnable != tt.runnable {
				t.Fatalf("expected runnable=%v, got %v (%s)", tt.runnable, d.Runnable, d.Reason())
			}
			if !slices.Equal(d.Missing, tt.missing) {
				t.Fatalf("expected missing %v, got %v", tt.missing, d.Missing)
			}
		})
	}
}

func TestCanRun_UnknownPhase(t *testing.T) {
	_, err := phase.CanRun(phase.Default(), 9, phase.NewSet())
	if !errors.Is(err, domain.ErrUnknownPhase) {
		t.Fatalf("expected ErrUnknownPhase, got %v", err)
	}
}

func TestDecision_Reason(t *testing.T) {
	d := phase.Decision{Phase: 5, Missing: []phase.ID{4}}
	if got := d.Reason(); got != "Phase 5 blocked: prerequisite phase 4 not complete" {
		t.Fatalf("unexpected reason %q", got)
	}
	d = phase.Decision{Phase: 3, Missing: []phase.ID{1, 2}}
	if got := d.Reason(); got != "Phase 3 blocked: prerequisite phases 1, 2 not complete" {
		t.Fatalf("unexpected reason %q", got)
	}
}

func TestReady_ParallelTracks(t *testing.T) {
	ready := phase.Ready(phase.Default(), phase.NewSet(1, 2))
	if !slices.Equal(ready, []phase.ID{3, 4}) {
		t.Fatalf("expected [3 4], got %v", ready)
	}
}

func TestClosed(t *testing.T) {
	reg := phase.Default()
	if ok, _, _ := phase.Closed(reg, phase.NewSet(1, 2, 4)); !ok {
		t.Fatal("expected {1,2,4} to be closed")
	}
	ok, offender, missing := phase.Closed(reg, phase.NewSet(1, 5))
	if ok || offender != 5 || !slices.Equal(missing, []phase.ID{4}) {
		t.Fatalf("expected phase 5 missing 4, got ok=%v offender=%d missing=%v", ok, offender, missing)
	}
	if ok, offender, _ := phase.Closed(reg, phase.NewSet(1, 12)); ok || offender != 12 {
		t.Fatalf("expected unknown phase 12 to be reported, got ok=%v offender=%d", ok, offender)
	}
}

func TestParseID(t *testing.T) {
	id, err := phase.ParseID(" 4 ")
	if err != nil || id != phase.Repository {
		t.Fatalf("expected 4, got %d (%v)", id, err)
	}
	if _, err := phase.ParseID("four"); err == nil {
		t.Fatal("expected parse error")
	}
}
