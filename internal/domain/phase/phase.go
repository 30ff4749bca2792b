// Package phase defines the fixed seven-phase delivery pipeline and the
// prerequisite gating rules between phases.
package phase

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ID identifies one of the seven pipeline phases.
type ID int

const (
	UI          ID = 1
	APIClient   ID = 2
	Wiring      ID = 3
	Repository  ID = 4
	Service     ID = 5
	Controller  ID = 6
	Integration ID = 7

	// Done is the currentPhase sentinel meaning every phase is complete.
	Done ID = 8
)

// Count is the number of phases in the pipeline.
const Count = 7

// Valid reports whether id names a real phase.
func (id ID) Valid() bool {
	return id >= UI && id <= Integration
}

func (id ID) String() string {
	return strconv.Itoa(int(id))
}

// ParseID converts a decimal string to a phase ID. Range is not checked.
func ParseID(s string) (ID, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse phase id %q: %w", s, err)
	}
	return ID(n), nil
}

// FieldKind describes the shape of a phase output field.
type FieldKind string

const (
	KindString    FieldKind = "string"
	KindList      FieldKind = "list"
	KindEndpoints FieldKind = "endpoints"
)

// Field is one entry in a phase's output schema.
type Field struct {
	Name     string    `json:"name" yaml:"name"`
	Kind     FieldKind `json:"kind" yaml:"kind"`
	Required bool      `json:"required" yaml:"required"`
}

// Definition describes a single phase. Definitions are immutable once the
// registry is built.
type Definition struct {
	ID            ID      `json:"id"`
	Slug          string  `json:"slug"`
	Title         string  `json:"title"`
	Prerequisites []ID    `json:"prerequisites"`
	OutputSchema  []Field `json:"output_schema"`
}

// RequiredFields returns the names of the schema fields that must be present.
func (d Definition) RequiredFields() []string {
	var names []string
	for _, f := range d.OutputSchema {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

func (d Definition) clone() Definition {
	d.Prerequisites = slices.Clone(d.Prerequisites)
	d.OutputSchema = slices.Clone(d.OutputSchema)
	return d
}

// Set is a set of phase ids.
type Set map[ID]struct{}

// NewSet builds a Set from the given ids.
func NewSet(ids ...ID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s Set) Has(id ID) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order.
func (s Set) Sorted() []ID {
	ids := make([]ID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// JoinIDs renders ids as "1, 2, 3".
func JoinIDs(ids []ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ", ")
}
