package validation

import (
	"fmt"

	"github.com/Strob0t/phasegate/internal/domain"
)

// FailedError rejects a commit whose candidate did not pass the gate. It
// carries the itemized result for the caller to act on.
type FailedError struct {
	StoryID string
	Result  Result
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("story %s phase %d: %s", e.StoryID, e.Result.PhaseID, e.Result.Summary())
}

func (e *FailedError) Unwrap() error { return domain.ErrValidationFailed }
