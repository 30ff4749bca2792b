package phase

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Strob0t/phasegate/internal/domain"
)

var (
	ErrDAGCycle       = errors.New("phase prerequisites contain a cycle")
	ErrForwardPrereq  = errors.New("phase prerequisite must have a lower id")
	ErrDuplicatePhase = errors.New("phase defined twice")
	ErrMissingPhase   = errors.New("phase table must define every phase 1..7")
)

// Registry is the closed, static table of phase definitions.
type Registry struct {
	defs [Count]Definition
}

// builtin is the fixed pipeline. Phase 4 depends only on phase 2 so that the
// backend track can start from the API contract while the frontend track
// wires phase 3.
var builtin = []Definition{
	{
		ID: UI, Slug: "ui", Title: "UI components",
		OutputSchema: []Field{
			{Name: "components", Kind: KindList, Required: true},
			{Name: "deliverables", Kind: KindList},
		},
	},
	{
		ID: APIClient, Slug: "api-client", Title: "API client and shared types",
		Prerequisites: []ID{UI},
		OutputSchema: []Field{
			{Name: "sharedTypes", Kind: KindList, Required: true},
			{Name: "endpoints", Kind: KindEndpoints, Required: true},
		},
	},
	{
		ID: Wiring, Slug: "wiring", Title: "Frontend wiring",
		Prerequisites: []ID{UI, APIClient},
		OutputSchema: []Field{
			{Name: "hooks", Kind: KindList, Required: true},
			{Name: "stores", Kind: KindList},
		},
	},
	{
		ID: Repository, Slug: "repository", Title: "Repository layer",
		Prerequisites: []ID{APIClient},
		OutputSchema: []Field{
			{Name: "tables", Kind: KindList, Required: true},
			{Name: "repositories", Kind: KindList, Required: true},
		},
	},
	{
		ID: Service, Slug: "service", Title: "Service layer",
		Prerequisites: []ID{Repository},
		OutputSchema: []Field{
			{Name: "services", Kind: KindList, Required: true},
		},
	},
	{
		ID: Controller, Slug: "controller", Title: "Controller layer",
		Prerequisites: []ID{Service},
		OutputSchema: []Field{
			{Name: "endpoints", Kind: KindEndpoints, Required: true},
			{Name: "controllers", Kind: KindList},
		},
	},
	{
		ID: Integration, Slug: "integration", Title: "Integration",
		Prerequisites: []ID{UI, APIClient, Wiring, Repository, Service, Controller},
		OutputSchema: []Field{
			{Name: "testSuites", Kind: KindList, Required: true},
			{Name: "summary", Kind: KindString},
		},
	},
}

// Default returns the registry for the built-in seven-phase pipeline.
func Default() *Registry {
	r, err := newRegistry(builtin)
	if err != nil {
		panic(fmt.Sprintf("phase: builtin table invalid: %v", err))
	}
	return r
}

func newRegistry(defs []Definition) (*Registry, error) {
	if len(defs) != Count {
		return nil, ErrMissingPhase
	}
	r := &Registry{}
	seen := NewSet()
	for _, d := range defs {
		if !d.ID.Valid() {
			return nil, fmt.Errorf("phase %d: %w", d.ID, domain.ErrUnknownPhase)
		}
		if seen.Has(d.ID) {
			return nil, fmt.Errorf("phase %d: %w", d.ID, ErrDuplicatePhase)
		}
		seen[d.ID] = struct{}{}
		for _, p := range d.Prerequisites {
			if !p.Valid() {
				return nil, fmt.Errorf("phase %d prerequisite %d: %w", d.ID, p, domain.ErrUnknownPhase)
			}
			if p >= d.ID {
				return nil, fmt.Errorf("phase %d prerequisite %d: %w", d.ID, p, ErrForwardPrereq)
			}
		}
		d = d.clone()
		slices.Sort(d.Prerequisites)
		r.defs[d.ID-1] = d
	}
	if err := r.validateDAG(); err != nil {
		return nil, err
	}
	return r, nil
}

// validateDAG checks that prerequisites form a DAG using Kahn's algorithm.
func (r *Registry) validateDAG() error {
	inDegree := make(map[ID]int, Count)
	adj := make(map[ID][]ID, Count)
	for _, d := range r.defs {
		for _, p := range d.Prerequisites {
			adj[p] = append(adj[p], d.ID)
			inDegree[d.ID]++
		}
	}

	queue := make([]ID, 0, Count)
	for _, d := range r.defs {
		if inDegree[d.ID] == 0 {
			queue = append(queue, d.ID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != Count {
		return ErrDAGCycle
	}
	return nil
}

// Get returns the definition for id. It fails with domain.ErrUnknownPhase
// when id is outside 1..7.
func (r *Registry) Get(id ID) (Definition, error) {
	if !id.Valid() {
		return Definition{}, fmt.Errorf("phase %d: %w", id, domain.ErrUnknownPhase)
	}
	return r.defs[id-1].clone(), nil
}

// All returns every definition in ascending id order.
func (r *Registry) All() []Definition {
	out := make([]Definition, Count)
	for i, d := range r.defs {
		out[i] = d.clone()
	}
	return out
}
