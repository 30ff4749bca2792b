package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. ws may be
// nil when live push is disabled.
func MountRoutes(r chi.Router, h *Handlers, ws http.HandlerFunc) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if ws != nil {
		r.Get("/ws", ws)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		r.Get("/phases", h.ListPhases)

		r.Get("/stories", h.ListStories)
		r.Route("/stories/{id}", func(r chi.Router) {
			r.Get("/", h.GetStory)
			r.Get("/ready", h.Ready)
			r.Get("/progress", h.Progress)
			r.Get("/events", h.Events)
			r.Post("/merge", h.Merge)

			r.Get("/can-run/{phase}", h.CanRun)
			r.Post("/validate/{phase}", h.Validate)
			r.Post("/commit/{phase}", h.Commit)
			r.Post("/run/{phase}", h.Run)
		})
	})
}
