package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/story"
	"github.com/Strob0t/phasegate/internal/port/contextstore"
	"github.com/Strob0t/phasegate/internal/service"
)

// Handlers serves the story API.
type Handlers struct {
	Stories *service.StoryService
	Version string
}

type outputRequest struct {
	Output story.Output `json:"output"`
}

type storyResponse struct {
	*story.Document
	Revision contextstore.Revision `json:"revision"`
}

type canRunResponse struct {
	phase.Decision
	Reason string `json:"reason"`
}

// ListPhases handles GET /api/v1/phases.
func (h *Handlers) ListPhases(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Stories.Registry().All())
}

// ListStories handles GET /api/v1/stories.
func (h *Handlers) ListStories(w http.ResponseWriter, r *http.Request) {
	ids, err := h.Stories.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// GetStory handles GET /api/v1/stories/{id}.
func (h *Handlers) GetStory(w http.ResponseWriter, r *http.Request) {
	doc, rev, err := h.Stories.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, storyResponse{Document: doc, Revision: rev})
}

// CanRun handles GET /api/v1/stories/{id}/can-run/{phase}.
func (h *Handlers) CanRun(w http.ResponseWriter, r *http.Request) {
	id, ok := phaseParam(w, r)
	if !ok {
		return
	}
	d, err := h.Stories.CanRun(r.Context(), chi.URLParam(r, "id"), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, canRunResponse{Decision: d, Reason: d.Reason()})
}

// Ready handles GET /api/v1/stories/{id}/ready.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ids, err := h.Stories.Ready(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if ids == nil {
		ids = []phase.ID{}
	}
	writeJSON(w, http.StatusOK, map[string][]phase.ID{"ready": ids})
}

// Validate handles POST /api/v1/stories/{id}/validate/{phase}. A failing
// candidate is a 200 with passed=false: validation itself succeeded.
func (h *Handlers) Validate(w http.ResponseWriter, r *http.Request) {
	id, ok := phaseParam(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[outputRequest](w, r)
	if !ok {
		return
	}
	res, err := h.Stories.Validate(r.Context(), chi.URLParam(r, "id"), id, req.Output)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if res.Failures == nil {
		res.Failures = []string{}
	}
	writeJSON(w, http.StatusOK, res)
}

// Commit handles POST /api/v1/stories/{id}/commit/{phase}.
func (h *Handlers) Commit(w http.ResponseWriter, r *http.Request) {
	id, ok := phaseParam(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[outputRequest](w, r)
	if !ok {
		return
	}
	doc, err := h.Stories.Commit(r.Context(), chi.URLParam(r, "id"), id, req.Output)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Run handles POST /api/v1/stories/{id}/run/{phase}.
func (h *Handlers) Run(w http.ResponseWriter, r *http.Request) {
	id, ok := phaseParam(w, r)
	if !ok {
		return
	}
	doc, err := h.Stories.Run(r.Context(), chi.URLParam(r, "id"), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Progress handles GET /api/v1/stories/{id}/progress.
func (h *Handlers) Progress(w http.ResponseWriter, r *http.Request) {
	v, err := h.Stories.Project(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Merge handles POST /api/v1/stories/{id}/merge with a track's document as
// the body.
func (h *Handlers) Merge(w http.ResponseWriter, r *http.Request) {
	incoming, ok := readJSON[story.Document](w, r)
	if !ok {
		return
	}
	doc, err := h.Stories.Merge(r.Context(), chi.URLParam(r, "id"), &incoming)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Events handles GET /api/v1/stories/{id}/events?limit=N.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	evs, err := h.Stories.Events(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}
