package engine

import (
	"time"

	"github.com/rouhapp/coordination/pkg/models"
)

// IsTimedOut reports whether a run has dwelled in its current state longer
// than the state's configured timeout. The engine does not act on timeouts
// itself; an external scheduler polls this predicate.
func IsTimedOut(runState *models.RunState, templateState *models.TemplateState, now time.Time) bool {
	if templateState.TimeoutMinutes == nil || runState.ExitedAt != nil {
		return false
	}

	deadline := runState.EnteredAt.Add(time.Duration(*templateState.TimeoutMinutes) * time.Minute)

	return now.After(deadline)
}
