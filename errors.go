package unwind

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for structural misuse. These are returned synchronously
// from the API because they indicate programmer error, not runtime failure.
var (
	// ErrInvalidState indicates a structural misuse of a saga: adding a step
	// after execution started, executing the same instance twice, or
	// compensating a saga that is not in a compensatable state.
	ErrInvalidState = errors.New("invalid saga state")

	// ErrEmptySaga indicates an attempt to execute a saga with zero steps.
	ErrEmptySaga = errors.New("saga has no steps")

	// ErrSagaNotFound indicates the coordinator has no saga with the given ID.
	ErrSagaNotFound = errors.New("saga not found")

	// ErrDuplicateStep indicates a step with the same name already exists in
	// the saga.
	ErrDuplicateStep = errors.New("duplicate step name")
)

// invalidStatef wraps ErrInvalidState with detail.
func invalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// StepError represents a failed forward action. It is the normal, expected
// saga failure mode and triggers compensation; it is surfaced through the
// ExecutionResult rather than thrown at the caller.
type StepError struct {
	Step string
	Err  error
}

// NewStepError wraps a forward-action failure for the named step.
func NewStepError(step string, err error) *StepError {
	return &StepError{Step: step, Err: err}
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates the saga exceeded its deadline. It triggers the same
// compensation path as a step failure, with TimedOut set in the result.
type TimeoutError struct {
	Elapsed time.Duration
	Limit   time.Duration
}

// NewTimeoutError reports a saga deadline overrun.
func NewTimeoutError(elapsed, limit time.Duration) *TimeoutError {
	return &TimeoutError{Elapsed: elapsed, Limit: limit}
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("saga timed out after %s (limit %s)", e.Elapsed, e.Limit)
}

// CompensationError reports steps whose compensation never succeeded after
// exhausting the retry budget. It is surfaced distinctly from StepError
// because it leaves real-world side effects un-undone: the named steps
// require manual remediation.
type CompensationError struct {
	FailedSteps []string
	Errs        []error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf(
		"compensation failed for steps [%s]", strings.Join(e.FailedSteps, ", "),
	)
}

// Unwrap exposes the per-step compensation errors to errors.Is/As.
func (e *CompensationError) Unwrap() []error {
	return e.Errs
}

// add records one step's exhausted compensation.
func (e *CompensationError) add(step string, err error) {
	e.FailedSteps = append(e.FailedSteps, step)
	e.Errs = append(e.Errs, err)
}

func (e *CompensationError) empty() bool {
	return len(e.FailedSteps) == 0
}
