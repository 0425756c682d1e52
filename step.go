package unwind

import (
	"context"
	"sync"
	"time"
)

// ForwardFunc is a step's forward action. It may read and write the saga
// context; its returned output is merged into the context under the step's
// name. Returning an error marks the step as the saga's failure point.
type ForwardFunc func(ctx context.Context, sc *Context) (any, error)

// CompensationFunc undoes the effect of a step's forward action. It must be
// safe to invoke more than once: retries may call it again after a failure.
type CompensationFunc func(ctx context.Context, sc *Context) error

// NoOpCompensation is a CompensationFunc for steps with nothing to undo.
func NoOpCompensation(_ context.Context, _ *Context) error {
	return nil
}

// Step is a named unit of work pairing a forward action with a compensating
// action. Its lifetime is bound to the owning saga; the executed and
// compensated flags are mutated only by the coordinator during a single
// execution attempt.
type Step struct {
	name         string
	forward      ForwardFunc
	compensation CompensationFunc
	timeout      time.Duration

	mu          sync.Mutex
	executed    bool
	compensated bool
}

// StepOption configures a Step.
type StepOption func(*Step)

// WithStepTimeout bounds the step's forward action with its own deadline,
// independent of the saga-level timeout.
func WithStepTimeout(d time.Duration) StepOption {
	return func(s *Step) {
		s.timeout = d
	}
}

// NewStep creates a step from a forward/compensation function pair. A nil
// compensation is treated as NoOpCompensation.
func NewStep(name string, forward ForwardFunc, compensation CompensationFunc, opts ...StepOption) *Step {
	if compensation == nil {
		compensation = NoOpCompensation
	}
	s := &Step{
		name:         name,
		forward:      forward,
		compensation: compensation,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step's unique name.
func (s *Step) Name() string {
	return s.name
}

// Executed reports whether the forward action completed without error.
func (s *Step) Executed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed
}

// Compensated reports whether the compensation completed without error.
func (s *Step) Compensated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compensated
}

// execute invokes the forward action. The executed flag is set only on
// success; a failed forward action leaves the step eligible to be skipped by
// compensation.
func (s *Step) execute(ctx context.Context, sc *Context) (any, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	out, err := s.forward(ctx, sc)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.executed = true
	s.mu.Unlock()
	return out, nil
}

// compensate invokes the compensation action. Compensating a step whose
// forward action never ran is a contract violation this guards against
// rather than performs, and an already-compensated step is a no-op so the
// coordinator's retries and repeated sweeps stay idempotent.
func (s *Step) compensate(ctx context.Context, sc *Context) error {
	s.mu.Lock()
	if !s.executed || s.compensated {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.compensation(ctx, sc); err != nil {
		return err
	}

	s.mu.Lock()
	s.compensated = true
	s.mu.Unlock()
	return nil
}

// markExecuted restores the executed flag from a journal snapshot during
// recovery, without re-running the forward action.
func (s *Step) markExecuted() {
	s.mu.Lock()
	s.executed = true
	s.mu.Unlock()
}

// markCompensated restores the compensated flag from a journal snapshot, so
// a recovered sweep does not undo the same step twice.
func (s *Step) markCompensated() {
	s.mu.Lock()
	s.compensated = true
	s.mu.Unlock()
}
