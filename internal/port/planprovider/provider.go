// Package planprovider defines the port for fetching a story's plan document.
package planprovider

import (
	"context"

	"github.com/Strob0t/phasegate/internal/domain/plan"
)

// Provider returns plan documents.
type Provider interface {
	// GetPlan returns the plan for storyID. It fails with
	// domain.ErrPlanNotFound when none exists; callers must not default.
	GetPlan(ctx context.Context, storyID string) (*plan.Document, error)
}
