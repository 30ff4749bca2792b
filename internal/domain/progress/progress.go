// Package progress derives a read-only status view of a story from its
// context document, its plan, and the deliverables found on disk.
package progress

import (
	"fmt"

	"github.com/Strob0t/phasegate/internal/domain/artifact"
	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/plan"
	"github.com/Strob0t/phasegate/internal/domain/story"
)

// State is the per-phase status.
type State string

const (
	StateDone    State = "done"
	StateActive  State = "active"
	StatePending State = "pending"
)

// ActionKind names the recommended next step.
type ActionKind string

const (
	ActionValidate ActionKind = "validate"
	ActionRun      ActionKind = "run"
	ActionBlocked  ActionKind = "blocked"
	ActionShip     ActionKind = "ship"
)

// PhaseStatus is one row of the view.
type PhaseStatus struct {
	Phase    phase.ID `json:"phase"`
	Title    string   `json:"title"`
	State    State    `json:"state"`
	Found    []string `json:"found,omitempty"`
	Expected int      `json:"expected"`
}

// NextAction is the single recommendation derived from the phase states.
type NextAction struct {
	Kind    ActionKind `json:"kind"`
	Phase   phase.ID   `json:"phase,omitempty"`
	Missing []phase.ID `json:"missing,omitempty"`
	Message string     `json:"message"`
}

// View is the status of one story.
type View struct {
	StoryID            string        `json:"story_id"`
	Phases             []PhaseStatus `json:"phases"`
	Completed          int           `json:"completed"`
	CompletionFraction float64       `json:"completion_fraction"`
	NextAction         NextAction    `json:"next_action"`
}

// Project classifies every phase and recommends the next action. found maps
// a phase to the artifacts observed for it; phases absent from found are
// treated as having none. Project never mutates doc.
func Project(r *phase.Registry, doc *story.Document, p *plan.Document, found map[phase.ID][]artifact.Artifact) (View, error) {
	if err := doc.CheckInvariants(r); err != nil {
		return View{}, fmt.Errorf("project story %s: %w", doc.StoryID, err)
	}

	completed := doc.Completed()
	v := View{
		StoryID:            doc.StoryID,
		Completed:          len(completed),
		CompletionFraction: float64(len(completed)) / float64(phase.Count),
	}

	for _, def := range r.All() {
		pp := plan.PhasePlan{Phase: def.ID}
		if p != nil {
			pp = p.For(def.ID)
		}
		st := PhaseStatus{
			Phase:    def.ID,
			Title:    def.Title,
			Expected: pp.Expected(),
			Found:    artifact.Found(pp.Deliverables, found[def.ID]),
		}
		switch {
		case completed.Has(def.ID):
			st.State = StateDone
		case len(st.Found) > 0:
			st.State = StateActive
		default:
			st.State = StatePending
		}
		v.Phases = append(v.Phases, st)
	}

	next, err := nextAction(r, v.Phases, completed)
	if err != nil {
		return View{}, err
	}
	v.NextAction = next
	return v, nil
}

func nextAction(r *phase.Registry, phases []PhaseStatus, completed phase.Set) (NextAction, error) {
	for i := len(phases) - 1; i >= 0; i-- {
		if phases[i].State == StateActive {
			id := phases[i].Phase
			return NextAction{
				Kind:    ActionValidate,
				Phase:   id,
				Message: fmt.Sprintf("Phase %d has %d of %d deliverables on disk: validate it", id, len(phases[i].Found), phases[i].Expected),
			}, nil
		}
	}

	for _, st := range phases {
		if st.State != StatePending {
			continue
		}
		d, err := phase.CanRun(r, st.Phase, completed)
		if err != nil {
			return NextAction{}, err
		}
		if d.Runnable {
			return NextAction{
				Kind:    ActionRun,
				Phase:   st.Phase,
				Message: fmt.Sprintf("Run phase %d (%s)", st.Phase, st.Title),
			}, nil
		}
		return NextAction{
			Kind:    ActionBlocked,
			Phase:   st.Phase,
			Missing: d.Missing,
			Message: d.Reason(),
		}, nil
	}

	return NextAction{Kind: ActionShip, Message: "All phases done: ship it"}, nil
}
