package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/progress"
	"github.com/Strob0t/phasegate/internal/domain/story"
	"github.com/Strob0t/phasegate/internal/domain/validation"
)

// wantJSON reports whether output should be JSON: on request, or whenever
// stdout is not a terminal so pipes get a stable format.
func wantJSON() bool {
	return jsonOutput || !term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec // fd fits in int
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDecision(w io.Writer, d phase.Decision) error {
	if d.Runnable {
		_, err := fmt.Fprintf(w, "Phase %d can run\n", d.Phase)
		return err
	}
	_, err := fmt.Fprintln(w, d.Reason())
	return err
}

func printReady(w io.Writer, ids []phase.ID) error {
	if len(ids) == 0 {
		_, err := fmt.Fprintln(w, "No phases ready.")
		return err
	}
	_, err := fmt.Fprintf(w, "Ready: %s\n", phase.JoinIDs(ids))
	return err
}

func printResult(w io.Writer, res validation.Result) error {
	if _, err := fmt.Fprintln(w, res.Summary()); err != nil {
		return err
	}
	for _, f := range res.Failures {
		if _, err := fmt.Fprintf(w, "  - %s\n", f); err != nil {
			return err
		}
	}
	return nil
}

func printProgress(w io.Writer, v progress.View) error {
	fmt.Fprintf(w, "%s: %d/%d phases done (%.0f%%)\n\n", v.StoryID, v.Completed, phase.Count, v.CompletionFraction*100)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PHASE\tTITLE\tSTATE\tDELIVERABLES")
	for _, p := range v.Phases {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%d/%d\n", p.Phase, p.Title, p.State, len(p.Found), p.Expected)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nNext: %s\n", v.NextAction.Message)
	return err
}

func printDocument(w io.Writer, doc *story.Document) error {
	done := "none"
	if len(doc.CompletedPhases) > 0 {
		done = phase.JoinIDs(doc.CompletedPhases)
	}
	current := "done"
	if doc.CurrentPhase != phase.Done {
		current = doc.CurrentPhase.String()
	}
	fmt.Fprintf(w, "Story:     %s\nCompleted: %s\nCurrent:   %s\n", doc.StoryID, done, current)
	for _, id := range doc.CompletedPhases {
		keys := make([]string, 0, len(doc.PhaseOutputs[id]))
		for k := range doc.PhaseOutputs[id] {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		fmt.Fprintf(w, "  phase %d: %s\n", id, strings.Join(keys, ", "))
	}
	return nil
}

func printPhases(w io.Writer, defs []phase.Definition) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PHASE\tSLUG\tTITLE\tPREREQUISITES\tREQUIRED")
	for _, d := range defs {
		pre := "-"
		if len(d.Prerequisites) > 0 {
			pre = phase.JoinIDs(d.Prerequisites)
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", d.ID, d.Slug, d.Title, pre, strings.Join(d.RequiredFields(), ", "))
	}
	return tw.Flush()
}
