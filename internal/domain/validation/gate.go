// Package validation implements the gate a phase output must pass before it
// may be committed to a story's context document.
package validation

import (
	"fmt"
	"strings"

	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/artifact"
	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/plan"
	"github.com/Strob0t/phasegate/internal/domain/story"
)

// Candidate is a proposed phase output together with the artifacts observed
// for it.
type Candidate struct {
	Output    story.Output        `json:"output"`
	Artifacts []artifact.Artifact `json:"artifacts"`
}

// CheckReport is the outcome of the external build/lint/test checks.
type CheckReport struct {
	Passed  bool     `json:"passed"`
	Reasons []string `json:"reasons,omitempty"`
}

// PassingChecks is the report used when no quality checks are configured.
var PassingChecks = CheckReport{Passed: true}

// Result holds the outcome of validating one candidate.
type Result struct {
	PhaseID  phase.ID `json:"phase_id"`
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
}

// Summary renders the result on one line.
func (r Result) Summary() string {
	if r.Passed {
		return fmt.Sprintf("Phase %d validation passed", r.PhaseID)
	}
	return "Validation failed: " + strings.Join(r.Failures, "; ")
}

// Validate checks a candidate for phase id against the plan's deliverables,
// the phase output schema, and the quality-check report. Each violated check
// adds its own failure; Passed is true only when there are none. Validate
// has no side effects.
func Validate(r *phase.Registry, id phase.ID, c Candidate, p *plan.Document, checks CheckReport) (Result, error) {
	def, err := r.Get(id)
	if err != nil {
		return Result{}, err
	}
	if p == nil {
		return Result{}, fmt.Errorf("validate phase %d: %w: plan document is required", id, domain.ErrValidation)
	}

	res := Result{PhaseID: id}
	res.Failures = append(res.Failures, checkDeliverables(p.For(id), c.Artifacts)...)
	res.Failures = append(res.Failures, checkSchema(def, c.Output)...)
	res.Failures = append(res.Failures, checkQuality(checks)...)
	res.Passed = len(res.Failures) == 0
	return res, nil
}

func checkDeliverables(pp plan.PhasePlan, items []artifact.Artifact) []string {
	var failures []string
	declared := len(pp.Deliverables)
	if missing := artifact.Missing(pp.Deliverables, items); len(missing) > 0 {
		failures = append(failures, fmt.Sprintf("%d of %d declared deliverables missing: %s",
			len(missing), declared, strings.Join(missing, ", ")))
	}
	if expected := pp.Expected(); expected > declared {
		if produced := len(artifact.Present(items)); produced < expected {
			failures = append(failures, fmt.Sprintf("expected %d deliverables, found %d", expected, produced))
		}
	}
	return failures
}

func checkSchema(def phase.Definition, out story.Output) []string {
	var failures []string
	for _, f := range def.OutputSchema {
		v, ok := out[f.Name]
		if !ok || isEmpty(v) {
			if f.Required {
				failures = append(failures, fmt.Sprintf("missing required field %q", f.Name))
			}
			continue
		}
		if msg := checkKind(f, v); msg != "" {
			failures = append(failures, msg)
		}
	}
	return failures
}

func checkQuality(checks CheckReport) []string {
	if checks.Passed {
		return nil
	}
	if len(checks.Reasons) == 0 {
		return []string{"quality checks failed"}
	}
	failures := make([]string, len(checks.Reasons))
	for i, reason := range checks.Reasons {
		failures[i] = "quality check: " + reason
	}
	return failures
}
