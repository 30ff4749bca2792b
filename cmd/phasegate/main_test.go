package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/progress"
	"github.com/Strob0t/phasegate/internal/domain/story"
	"github.com/Strob0t/phasegate/internal/domain/validation"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   int
		report bool
	}{
		{"plain", errors.New("boom"), 1, true},
		{"silent rejection", &exitError{code: exitRejected}, exitRejected, false},
		{"wrapped rejection", fmt.Errorf("commit: %w", &exitError{code: exitRejected, err: errors.New("blocked")}), exitRejected, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, report := exitCode(tt.err)
			if code != tt.code || report != tt.report {
				t.Fatalf("exitCode = (%d, %v), want (%d, %v)", code, report, tt.code, tt.report)
			}
		})
	}
}

func TestRejected(t *testing.T) {
	gate := &validation.FailedError{StoryID: "US-001", Result: validation.Result{PhaseID: phase.UI, Failures: []string{"missing components"}}}
	if code, _ := exitCode(rejected(gate)); code != exitRejected {
		t.Fatalf("expected gate failure to exit %d, got %d", exitRejected, code)
	}
	blocked := &story.PrerequisiteViolationError{StoryID: "US-001", Decision: phase.Decision{Phase: phase.Wiring, Missing: []phase.ID{phase.UI}}}
	if code, _ := exitCode(rejected(fmt.Errorf("commit: %w", blocked))); code != exitRejected {
		t.Fatalf("expected blocked commit to exit %d, got %d", exitRejected, code)
	}
	track := &story.Document{
		StoryID:         "US-001",
		CompletedPhases: []phase.ID{phase.APIClient},
		PhaseOutputs:    map[phase.ID]story.Output{phase.APIClient: {"sharedTypes": []string{"Todo"}}},
	}
	_, err := story.Merge(phase.Default(), story.New("US-001"), track)
	if code, _ := exitCode(rejected(err)); code != exitRejected {
		t.Fatalf("expected unclosed merge track to exit %d, got %d (%v)", exitRejected, code, err)
	}
	if code, _ := exitCode(rejected(errors.New("disk full"))); code != 1 {
		t.Fatalf("expected operational error to exit 1, got %d", code)
	}
}

func TestReadOutput(t *testing.T) {
	out, err := readOutput(strings.NewReader(`{"components":["TodoList"]}`), "-")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out["components"]; !ok {
		t.Fatalf("expected components key, got %v", out)
	}

	path := filepath.Join(t.TempDir(), "out.json")
	if err := os.WriteFile(path, []byte(`{"hooks":["useTodos"]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err = readOutput(strings.NewReader(""), path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out["hooks"]; !ok {
		t.Fatalf("expected hooks key from file, got %v", out)
	}

	for _, bad := range []string{`null`, `[1,2]`, `nope`} {
		if _, err := readOutput(strings.NewReader(bad), ""); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestOriginPatterns(t *testing.T) {
	if got := originPatterns("http://localhost:3000"); len(got) != 1 || got[0] != "localhost:3000" {
		t.Fatalf("expected host pattern, got %v", got)
	}
	if got := originPatterns("*"); got != nil {
		t.Fatalf("expected no patterns for wildcard, got %v", got)
	}
}

func TestPrintProgress(t *testing.T) {
	var buf bytes.Buffer
	v := progress.View{
		StoryID:            "US-001",
		Completed:          1,
		CompletionFraction: 1.0 / 7.0,
		Phases: []progress.PhaseStatus{
			{Phase: phase.UI, Title: "UI components", State: progress.StateDone, Found: []string{"TodoList.tsx"}, Expected: 1},
		},
		NextAction: progress.NextAction{Kind: progress.ActionRun, Phase: phase.APIClient, Message: "Run phase 2 (API client and shared types)"},
	}
	if err := printProgress(&buf, v); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"US-001: 1/7 phases done (14%)", "UI components", "1/1", "Next: Run phase 2"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("expected %q in output:\n%s", want, buf.String())
		}
	}
}
