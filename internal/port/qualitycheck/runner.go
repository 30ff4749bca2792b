// Package qualitycheck defines the port for external build, lint, and test
// checks.
package qualitycheck

import (
	"context"

	"github.com/Strob0t/phasegate/internal/domain/phase"
	"github.com/Strob0t/phasegate/internal/domain/validation"
)

// Runner executes the quality checks configured for a phase. A failing check
// is reported in the CheckReport; the error return is reserved for checks
// that could not run at all, including cancellation.
type Runner interface {
	RunChecks(ctx context.Context, storyID string, id phase.ID) (validation.CheckReport, error)
}
