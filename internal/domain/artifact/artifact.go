// Package artifact defines deliverable artifacts observed for a phase.
package artifact

import "slices"

// Artifact is one deliverable observed in a workspace. Size is in bytes; an
// artifact with Size 0 exists but is empty.
type Artifact struct {
	ID   string `json:"id"`
	Size int64  `json:"size"`
}

// NonEmpty reports whether the artifact has content.
func (a Artifact) NonEmpty() bool {
	return a.Size > 0
}

// Present returns the set of artifact ids that are non-empty.
func Present(items []Artifact) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, a := range items {
		if a.NonEmpty() {
			out[a.ID] = true
		}
	}
	return out
}

// Missing returns the declared ids that are not present and non-empty in
// items, preserving declaration order.
func Missing(declared []string, items []Artifact) []string {
	present := Present(items)
	var missing []string
	for _, id := range declared {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// Found returns the declared ids that are present and non-empty, preserving
// declaration order.
func Found(declared []string, items []Artifact) []string {
	present := Present(items)
	var found []string
	for _, id := range declared {
		if present[id] && !slices.Contains(found, id) {
			found = append(found, id)
		}
	}
	return found
}
