package unwind

import (
	"fmt"
	"time"
)

// ExecutionResult is the definitive verdict returned to the caller after a
// saga run or compensation sweep. It always carries enough detail (failed
// step name, compensated-step count, steps left inconsistent) to decide
// whether manual remediation is needed.
type ExecutionResult struct {
	Success          bool
	CompletedSteps   int
	FailedStep       string
	Err              error
	CompensatedSteps int
	Duration         time.Duration
	TimedOut         bool

	// FailedCompensations names steps whose compensation exhausted its retry
	// budget and remain un-undone. Non-empty only when the saga ended failed.
	FailedCompensations []string
}

// String implements the fmt.Stringer interface for ExecutionResult.
func (r *ExecutionResult) String() string {
	if r.Success {
		return fmt.Sprintf(
			"success: %d steps completed in %s", r.CompletedSteps, r.Duration,
		)
	}
	return fmt.Sprintf(
		"failed at %q: %v (compensated %d of %d, timed_out=%t)",
		r.FailedStep, r.Err, r.CompensatedSteps, r.CompletedSteps, r.TimedOut,
	)
}

// Status is a read-only snapshot of a saga, served by Saga.Status and
// Coordinator.Status.
type Status struct {
	ID               string
	Name             string
	State            State
	TotalSteps       int
	ExecutedSteps    int
	CompensatedSteps int
	Duration         time.Duration
	Err              string
}
