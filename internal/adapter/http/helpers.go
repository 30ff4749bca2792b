package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/story"
	"github.com/Strob0t/phasegate/internal/domain/validation"
	"github.com/Strob0t/phasegate/internal/resilience"
	"github.com/Strob0t/phasegate/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// phaseParam parses the {phase} URL parameter. The range is checked by the
// service so unknown phases map to ErrUnknownPhase uniformly.
func phaseParam(w http.ResponseWriter, r *http.Request) (phase.ID, bool) {
	id, err := phase.ParseID(chi.URLParam(r, "phase"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "phase must be an integer")
		return 0, false
	}
	return id, true
}

// queryInt returns the integer query parameter name, or def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error     string     `json:"error"`
	Failures  []string   `json:"failures,omitempty"`
	Missing   []phase.ID `json:"missing,omitempty"`
	Conflicts []phase.ID `json:"conflicts,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps service errors to status codes. Typed errors add
// their details to the body.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		failed   *validation.FailedError
		blocked  *story.PrerequisiteViolationError
		conflict *story.ContextConflictError
	)
	switch {
	case errors.As(err, &failed):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: failed.Result.Summary(), Failures: failed.Result.Failures})
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Missing: blocked.Decision.Missing})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Conflicts: conflict.Phases})
	case errors.Is(err, domain.ErrPrerequisiteViolation), errors.Is(err, domain.ErrContextConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrStaleWrite), errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "story was modified concurrently; retry")
	case errors.Is(err, domain.ErrUnknownPhase), errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrPlanNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "story not found")
	case errors.Is(err, domain.ErrPhaseExecutionAborted):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, service.ErrNoAgent), errors.Is(err, resilience.ErrCircuitOpen):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeInternalError(w, err)
	}
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
