package phase

import "fmt"

// Decision is the outcome of a gating check for one phase.
type Decision struct {
	Phase    ID   `json:"phase"`
	Runnable bool `json:"runnable"`
	Missing  []ID `json:"missing,omitempty"` // ascending
}

// Reason renders a human-readable explanation of the decision.
func (d Decision) Reason() string {
	if d.Runnable {
		return fmt.Sprintf("Phase %d runnable", d.Phase)
	}
	if len(d.Missing) == 1 {
		return fmt.Sprintf("Phase %d blocked: prerequisite phase %d not complete", d.Phase, d.Missing[0])
	}
	return fmt.Sprintf("Phase %d blocked: prerequisite phases %s not complete", d.Phase, JoinIDs(d.Missing))
}

// CanRun decides whether phase id may run given the completed set. Re-running
// an earlier phase is allowed; only prerequisites gate.
func CanRun(r *Registry, id ID, completed Set) (Decision, error) {
	def, err := r.Get(id)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Phase: id, Runnable: true}
	for _, p := range def.Prerequisites {
		if !completed.Has(p) {
			d.Missing = append(d.Missing, p)
		}
	}
	if len(d.Missing) > 0 {
		d.Runnable = false
	}
	return d, nil
}

// Ready returns the phases that are not yet completed and have every
// prerequisite completed, ascending. Several phases can be ready at once when
// tracks run in parallel.
func Ready(r *Registry, completed Set) []ID {
	var ready []ID
	for _, def := range r.defs {
		if completed.Has(def.ID) {
			continue
		}
		allDone := true
		for _, p := range def.Prerequisites {
			if !completed.Has(p) {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, def.ID)
		}
	}
	return ready
}

// Closed reports whether every member of completed has all of its
// prerequisites in completed. Unknown ids are reported as the first offender.
func Closed(r *Registry, completed Set) (ok bool, offender ID, missing []ID) {
	for _, id := range completed.Sorted() {
		d, err := CanRun(r, id, completed)
		if err != nil {
			return false, id, nil
		}
		if !d.Runnable {
			return false, id, d.Missing
		}
	}
	return true, 0, nil
}
