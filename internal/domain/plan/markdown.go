package plan

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Strob0t/phasegate/internal/domain/phase"
)

var (
	phaseHeadingRE = regexp.MustCompile(`(?i)^#{1,3}\s+phase\s+(\d+)\b`)
	titleHeadingRE = regexp.MustCompile(`^#\s+(.+)$`)
	expectedRE     = regexp.MustCompile(`(?i)^expected(?:[ _]count)?\s*:\s*(\d+)\s*$`)
)

// ParseMarkdown reads a checklist-style plan:
//
//	# US-001: Todo CRUD
//	## Phase 1: UI components
//	- [ ] src/components/TodoList.tsx
//	- [x] `src/components/TodoForm.tsx`
//	Expected: 3
//
// List items and checkboxes under a "Phase N" heading (levels 1-3) become
// that phase's deliverables, in order. Checkbox state is ignored; the prober
// decides what exists. storyID is used when the document does not set one.
func ParseMarkdown(storyID string, content []byte) (*Document, error) {
	doc := &Document{StoryID: storyID}
	scanner := bufio.NewScanner(bytes.NewReader(content))
	var current *PhasePlan
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" {
			continue
		}

		if m := phaseHeadingRE.FindStringSubmatch(trimmed); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			doc.Phases = append(doc.Phases, PhasePlan{Phase: phase.ID(n)})
			current = &doc.Phases[len(doc.Phases)-1]
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			if m := titleHeadingRE.FindStringSubmatch(trimmed); m != nil && doc.Title == "" {
				doc.Title = strings.TrimSpace(m[1])
			}
			// Any other heading closes the current phase section.
			if current != nil && !strings.HasPrefix(trimmed, "####") {
				current = nil
			}
			continue
		}

		if current == nil {
			continue
		}

		if m := expectedRE.FindStringSubmatch(trimmed); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			current.ExpectedCount = n
			continue
		}

		if item, ok := parseItem(trimmed); ok {
			current.Deliverables = append(current.Deliverables, item)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan markdown plan: %w", err)
	}
	return doc, nil
}

// parseItem extracts a deliverable from "- [ ] x", "- [x] x", "- x" or "* x".
func parseItem(line string) (string, bool) {
	if !strings.HasPrefix(line, "- ") && !strings.HasPrefix(line, "* ") {
		return "", false
	}
	rest := strings.TrimSpace(line[2:])
	for _, box := range []string{"[ ]", "[x]", "[X]"} {
		if strings.HasPrefix(rest, box) {
			rest = strings.TrimSpace(rest[len(box):])
			break
		}
	}
	rest = strings.Trim(rest, "`")
	if rest == "" {
		return "", false
	}
	return rest, true
}
