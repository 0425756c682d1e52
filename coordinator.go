package unwind

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	defaultCompensationRetries = 1
	defaultBackoffInterval     = 100 * time.Millisecond
	defaultBackoffCap          = 5 * time.Second
)

// linearBackoff returns a retry.Backoff whose delay grows proportionally to
// the attempt number (interval, 2*interval, 3*interval, ...), capped at max.
func linearBackoff(interval, max time.Duration) retry.Backoff {
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		delay := time.Duration(attempt) * interval
		if max > 0 && delay > max {
			delay = max
		}
		return delay, false
	})
}

// Coordinator drives sagas to completion or full compensation. A single
// coordinator may execute many independent sagas concurrently; each saga's
// steps still run strictly in stage order.
type Coordinator struct {
	timeout             time.Duration
	compensationRetries int
	newBackoff          func() retry.Backoff
	logger              *zap.Logger
	journal             *Journal

	sagas *xsync.MapOf[string, *Saga]
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithTimeout bounds total saga execution time. The deadline is checked at
// each stage boundary and propagated to step contexts, so a step that honors
// cancellation is cut short; one that does not is allowed to finish before
// the coordinator notices the overrun.
func WithTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

// WithCompensationRetries sets the number of attempts per step during
// rollback (default 1, i.e. no retry).
func WithCompensationRetries(attempts int) CoordinatorOption {
	return func(c *Coordinator) {
		if attempts > 0 {
			c.compensationRetries = attempts
		}
	}
}

// WithCompensationBackoff replaces the default bounded linear backoff between
// compensation attempts. The factory is called once per step so each retry
// sequence starts fresh.
func WithCompensationBackoff(factory func() retry.Backoff) CoordinatorOption {
	return func(c *Coordinator) {
		c.newBackoff = factory
	}
}

// WithLogger attaches a structured logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithJournal attaches a journal that is updated at every lifecycle
// transition, enabling crash recovery.
func WithJournal(journal *Journal) CoordinatorOption {
	return func(c *Coordinator) {
		c.journal = journal
	}
}

// NewCoordinator creates a coordinator.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		compensationRetries: defaultCompensationRetries,
		newBackoff: func() retry.Backoff {
			return linearBackoff(defaultBackoffInterval, defaultBackoffCap)
		},
		logger: zap.NewNop(),
		sagas:  xsync.NewMapOf[string, *Saga](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute runs the saga's stages in order. Step failures, timeouts, and
// cancellation all trigger reverse-order compensation and are reported
// through the ExecutionResult; the error return is reserved for structural
// misuse (ErrEmptySaga, ErrInvalidState).
func (c *Coordinator) Execute(ctx context.Context, saga *Saga) (*ExecutionResult, error) {
	if saga.TotalSteps() == 0 {
		return nil, ErrEmptySaga
	}
	p, err := newPlan(saga.stageList())
	if err != nil {
		return nil, err
	}
	if err := saga.start(); err != nil {
		return nil, err
	}

	c.sagas.Store(saga.ID(), saga)
	c.record(saga)
	c.logger.Info("saga started",
		zap.String("saga_id", saga.ID()),
		zap.String("saga", saga.Name()),
		zap.Int("steps", saga.TotalSteps()))

	start := time.Now()
	var deadline time.Time
	execCtx := ctx
	if c.timeout > 0 {
		deadline = start.Add(c.timeout)
		var cancel context.CancelFunc
		execCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	for _, level := range p.stepLevels() {
		// Cooperative cancellation and the saga deadline are both observed
		// at stage boundaries only.
		if err := ctx.Err(); err != nil {
			return c.abort(ctx, saga, "", err, false), nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return c.abort(ctx, saga, "", NewTimeoutError(time.Since(start), c.timeout), true), nil
		}

		failedStep, stepErr := c.runLevel(execCtx, saga, level)
		if stepErr != nil {
			timedOut := errors.Is(stepErr, context.DeadlineExceeded) ||
				(!deadline.IsZero() && time.Now().After(deadline))
			return c.abort(ctx, saga, failedStep, stepErr, timedOut), nil
		}
		c.record(saga)
	}

	if err := saga.complete(); err != nil {
		return nil, err
	}
	c.record(saga)

	result := &ExecutionResult{
		Success:        true,
		CompletedSteps: len(saga.ExecutedSteps()),
		Duration:       saga.Duration(),
	}
	c.logger.Info("saga completed",
		zap.String("saga_id", saga.ID()),
		zap.Int("steps", result.CompletedSteps),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// Compensate manually unwinds a saga: a completed saga being rolled back, a
// recovered in-flight saga, or a failed saga whose blocking compensations an
// operator has since fixed. Success in the result means the sweep fully
// compensated every executed step.
func (c *Coordinator) Compensate(ctx context.Context, saga *Saga) (*ExecutionResult, error) {
	if err := saga.beginCompensation(); err != nil {
		return nil, err
	}
	c.sagas.Store(saga.ID(), saga)
	c.record(saga)
	c.logger.Info("compensating saga",
		zap.String("saga_id", saga.ID()),
		zap.Int("executed_steps", len(saga.ExecutedSteps())))

	compErr := c.sweep(context.WithoutCancel(ctx), saga)
	fully := compErr == nil
	if err := saga.finishCompensation(fully); err != nil {
		return nil, err
	}
	c.record(saga)

	result := &ExecutionResult{
		Success:          fully,
		CompletedSteps:   len(saga.ExecutedSteps()),
		CompensatedSteps: len(saga.CompensatedSteps()),
		Duration:         saga.Duration(),
	}
	if compErr != nil {
		result.Err = compErr
		result.FailedCompensations = compErr.FailedSteps
	}
	return result, nil
}

// Status returns the status snapshot for a saga this coordinator has seen.
func (c *Coordinator) Status(sagaID string) (Status, error) {
	saga, ok := c.sagas.Load(sagaID)
	if !ok {
		return Status{}, ErrSagaNotFound
	}
	return saga.Status(), nil
}

// abort transitions a failing saga into compensation, runs the sweep, and
// assembles the failure result. Compensation runs on a context detached from
// the execution deadline: a timed-out or cancelled saga still gets unwound.
func (c *Coordinator) abort(ctx context.Context, saga *Saga, failedStep string, stepErr error, timedOut bool) *ExecutionResult {
	saga.setErr(stepErr)
	c.logger.Warn("saga failed, compensating",
		zap.String("saga_id", saga.ID()),
		zap.String("failed_step", failedStep),
		zap.Bool("timed_out", timedOut),
		zap.Error(stepErr))

	if err := saga.beginCompensation(); err != nil {
		// Unreachable from Execute; keep the result honest anyway.
		c.logger.Error("compensation transition rejected", zap.Error(err))
	}
	c.record(saga)

	compErr := c.sweep(context.WithoutCancel(ctx), saga)
	fully := compErr == nil
	if err := saga.finishCompensation(fully); err != nil {
		c.logger.Error("final transition rejected", zap.Error(err))
	}
	c.record(saga)

	result := &ExecutionResult{
		Success:          false,
		CompletedSteps:   len(saga.ExecutedSteps()),
		FailedStep:       failedStep,
		Err:              stepErr,
		CompensatedSteps: len(saga.CompensatedSteps()),
		Duration:         saga.Duration(),
		TimedOut:         timedOut,
	}
	if compErr != nil {
		result.FailedCompensations = compErr.FailedSteps
		result.Err = errors.Join(stepErr, compErr)
	}
	return result
}

// runLevel executes one dependency level. A single step runs inline; a
// parallel stage fans its steps out and waits for all of them, recording
// every success before reporting the first failure so the sweep covers steps
// that completed alongside the failing one.
func (c *Coordinator) runLevel(ctx context.Context, saga *Saga, level []*Step) (string, error) {
	if len(level) == 1 {
		step := level[0]
		if err := c.runStep(ctx, saga, step); err != nil {
			return step.Name(), err
		}
		return "", nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(level))
	outs := make([]any, len(level))
	for i, step := range level {
		wg.Add(1)
		go func(i int, step *Step) {
			defer wg.Done()
			outs[i], errs[i] = step.execute(ctx, saga.Context())
		}(i, step)
	}
	wg.Wait()

	for i, step := range level {
		if errs[i] == nil {
			saga.recordExecuted(step.Name())
			saga.Context().Set(step.Name(), outs[i])
		}
	}
	for i, step := range level {
		if errs[i] != nil {
			return step.Name(), errs[i]
		}
	}
	return "", nil
}

// runStep executes one step's forward action and merges its output into the
// saga context under the step's name.
func (c *Coordinator) runStep(ctx context.Context, saga *Saga, step *Step) error {
	c.logger.Debug("executing step",
		zap.String("saga_id", saga.ID()),
		zap.String("step", step.Name()))

	out, err := step.execute(ctx, saga.Context())
	if err != nil {
		return err
	}
	saga.recordExecuted(step.Name())
	saga.Context().Set(step.Name(), out)
	return nil
}

// sweep compensates executed steps in strict reverse order. Later steps may
// depend on earlier ones, so undoing must mirror construction order exactly.
// Each step gets the full retry budget; a step that exhausts it is recorded
// and the sweep continues, because skipping the undo of earlier steps over
// one late failure would leave more inconsistency, not less.
func (c *Coordinator) sweep(ctx context.Context, saga *Saga) *CompensationError {
	compErr := &CompensationError{}
	executed := saga.ExecutedSteps()

	for i := len(executed) - 1; i >= 0; i-- {
		name := executed[i]
		step := saga.findStep(name)
		if step == nil || step.Compensated() {
			continue
		}

		c.logger.Debug("compensating step",
			zap.String("saga_id", saga.ID()),
			zap.String("step", name))

		attempts := 0
		err := retry.Do(ctx,
			retry.WithMaxRetries(uint64(c.compensationRetries-1), c.newBackoff()),
			func(ctx context.Context) error {
				attempts++
				if err := step.compensate(ctx, saga.Context()); err != nil {
					return retry.RetryableError(err)
				}
				return nil
			})
		if err != nil {
			c.logger.Error("compensation exhausted retries",
				zap.String("saga_id", saga.ID()),
				zap.String("step", name),
				zap.Int("attempts", attempts),
				zap.Error(err))
			compErr.add(name, err)
			continue
		}

		saga.recordCompensated(name)
		c.record(saga)
	}

	if compErr.empty() {
		return nil
	}
	return compErr
}

// record upserts the saga's snapshot into the journal, if one is attached.
func (c *Coordinator) record(saga *Saga) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Record(saga); err != nil {
		c.logger.Warn("failed to journal saga state",
			zap.String("saga_id", saga.ID()),
			zap.Error(err))
	}
}
