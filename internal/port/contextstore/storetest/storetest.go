// Package storetest holds the compliance suite every contextstore.Store
// adapter must pass.
package storetest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/story"
	"github.com/Strob0t/phasegate/internal/port/contextstore"
)

// Run exercises s. newStoryID must return an id not used before so that
// suites against shared backends do not collide.
func Run(t *testing.T, s contextstore.Store, newStoryID func() string) {
	t.Helper()
	ctx := context.Background()
	reg := phase.Default()

	commit := func(t *testing.T, doc *story.Document, id phase.ID) *story.Document {
		t.Helper()
		next, err := story.Commit(reg, doc, id, story.Output{"components": []any{"TodoList"}, "note": id.String()})
		if err != nil {
			t.Fatal(err)
		}
		return next
	}

	t.Run("LoadMissing", func(t *testing.T) {
		_, _, err := s.Load(ctx, newStoryID())
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("CreateAndLoad", func(t *testing.T) {
		doc := commit(t, story.New(newStoryID()), phase.UI)
		rev, err := s.Save(ctx, doc, 0)
		if err != nil {
			t.Fatal(err)
		}
		if rev == 0 {
			t.Fatal("expected non-zero revision after create")
		}
		got, gotRev, err := s.Load(ctx, doc.StoryID)
		if err != nil {
			t.Fatal(err)
		}
		if gotRev != rev {
			t.Fatalf("expected revision %d, got %d", rev, gotRev)
		}
		if got.StoryID != doc.StoryID || !slices.Equal(got.CompletedPhases, doc.CompletedPhases) || got.CurrentPhase != phase.APIClient {
			t.Fatalf("round trip mismatch: %+v", got)
		}
		if !got.PhaseOutputs[phase.UI].Equal(doc.PhaseOutputs[phase.UI]) {
			t.Fatalf("output mismatch: %v", got.PhaseOutputs[phase.UI])
		}
	})

	t.Run("CreateTwiceIsStale", func(t *testing.T) {
		doc := story.New(newStoryID())
		if _, err := s.Save(ctx, doc, 0); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Save(ctx, doc, 0); !errors.Is(err, domain.ErrStaleWrite) {
			t.Fatalf("expected ErrStaleWrite, got %v", err)
		}
	})

	t.Run("UpdateAdvancesRevision", func(t *testing.T) {
		doc := commit(t, story.New(newStoryID()), phase.UI)
		rev1, err := s.Save(ctx, doc, 0)
		if err != nil {
			t.Fatal(err)
		}
		doc = commit(t, doc, phase.APIClient)
		rev2, err := s.Save(ctx, doc, rev1)
		if err != nil {
			t.Fatal(err)
		}
		if rev2 == rev1 {
			t.Fatal("expected revision to change")
		}
		if _, err := s.Save(ctx, doc, rev1); !errors.Is(err, domain.ErrStaleWrite) {
			t.Fatalf("expected ErrStaleWrite for old revision, got %v", err)
		}
		got, _, err := s.Load(ctx, doc.StoryID)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(got.CompletedPhases, []phase.ID{phase.UI, phase.APIClient}) {
			t.Fatalf("unexpected completed phases %v", got.CompletedPhases)
		}
	})

	t.Run("UpdateMissingIsStale", func(t *testing.T) {
		if _, err := s.Save(ctx, story.New(newStoryID()), 7); !errors.Is(err, domain.ErrStaleWrite) {
			t.Fatalf("expected ErrStaleWrite, got %v", err)
		}
	})

	t.Run("ConcurrentWritersOneWins", func(t *testing.T) {
		doc := story.New(newStoryID())
		rev, err := s.Save(ctx, doc, 0)
		if err != nil {
			t.Fatal(err)
		}
		a := commit(t, doc, phase.UI)

		const writers = 4
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins, stale := 0, 0
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Save(ctx, a, rev)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, domain.ErrStaleWrite):
					stale++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		if wins != 1 || stale != writers-1 {
			t.Fatalf("expected 1 win and %d stale, got %d and %d", writers-1, wins, stale)
		}
	})

	t.Run("List", func(t *testing.T) {
		id := newStoryID()
		if _, err := s.Save(ctx, story.New(id), 0); err != nil {
			t.Fatal(err)
		}
		ids, err := s.List(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Contains(ids, id) {
			t.Fatalf("expected %s in %v", id, ids)
		}
		if !slices.IsSorted(ids) {
			t.Fatalf("expected sorted ids, got %v", ids)
		}
	})

	t.Run("LoadedDocumentIsDetached", func(t *testing.T) {
		doc := commit(t, story.New(newStoryID()), phase.UI)
		if _, err := s.Save(ctx, doc, 0); err != nil {
			t.Fatal(err)
		}
		got, _, err := s.Load(ctx, doc.StoryID)
		if err != nil {
			t.Fatal(err)
		}
		got.CompletedPhases = append(got.CompletedPhases, phase.Integration)
		got.PhaseOutputs[phase.UI]["note"] = "mutated"
		again, _, err := s.Load(ctx, doc.StoryID)
		if err != nil {
			t.Fatal(err)
		}
		if len(again.CompletedPhases) != 1 || again.PhaseOutputs[phase.UI]["note"] != "1" {
			t.Fatalf("store shares state with callers: %+v", again)
		}
	})
}
