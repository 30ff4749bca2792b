// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates malformed caller input.
var ErrValidation = errors.New("validation error")

var (
	// ErrUnknownPhase is returned for phase ids outside the registry.
	ErrUnknownPhase = errors.New("unknown phase")

	// ErrPrerequisiteViolation is returned when a commit would skip a prerequisite phase.
	ErrPrerequisiteViolation = errors.New("prerequisite violation")

	// ErrContextConflict is returned when two track copies wrote the same phase differently.
	ErrContextConflict = errors.New("context conflict")

	// ErrStaleWrite is returned when the persisted document changed since it was read.
	ErrStaleWrite = errors.New("stale write: context document was modified concurrently")

	// ErrValidationFailed is returned when a candidate output does not satisfy its phase.
	ErrValidationFailed = errors.New("validation failed")

	// ErrPlanNotFound is returned when no plan document exists for a story.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrPhaseExecutionAborted is returned when an external collaborator was
	// cancelled or timed out. The context document is left unchanged.
	ErrPhaseExecutionAborted = errors.New("phase execution aborted")
)
