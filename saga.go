package unwind

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/fortressi/unwind/set"
)

// State represents the lifecycle state of a saga.
type State string

const (
	StatePending      State = "pending"
	StateExecuting    State = "executing"
	StateCompleted    State = "completed"
	StateCompensating State = "compensating"
	StateCompensated  State = "compensated"
	StateFailed       State = "failed"
)

// Lifecycle triggers for the saga state machine.
const (
	triggerStart       = "start"
	triggerComplete    = "complete"
	triggerCompensate  = "compensate"
	triggerCompensated = "compensated"
	triggerFail        = "fail"
)

// newLifecycle builds the saga state machine:
//
//	pending -> executing -> completed
//	                     -> compensating -> compensated
//	                                     -> failed
//	completed -> compensating (manual rollback)
//
// Illegal transitions surface as ErrInvalidState through transition().
func newLifecycle(initial State) *stateless.StateMachine {
	m := stateless.NewStateMachine(initial)
	m.Configure(StatePending).
		Permit(triggerStart, StateExecuting)
	m.Configure(StateExecuting).
		Permit(triggerComplete, StateCompleted).
		Permit(triggerCompensate, StateCompensating)
	m.Configure(StateCompleted).
		Permit(triggerCompensate, StateCompensating)
	m.Configure(StateCompensating).
		Permit(triggerCompensated, StateCompensated).
		Permit(triggerFail, StateFailed)
	// A failed saga may be swept again once an operator has fixed whatever
	// blocked its compensations; the per-step compensated flags make the
	// second sweep skip work already done.
	m.Configure(StateFailed).
		Permit(triggerCompensate, StateCompensating)
	return m
}

// Saga is an ordered sequence of steps plus transaction-level state. Steps
// are appended before execution begins; once the coordinator starts the saga
// the step list is immutable. The saga owns its Context and retains its
// history after completion for querying.
type Saga struct {
	mu        sync.RWMutex
	id        string
	name      string
	stages    [][]*Step
	stepNames set.Set[string]
	context   *Context
	machine   *stateless.StateMachine
	startedAt time.Time
	endedAt   time.Time

	// Append-only progress records, by step name. executed drives the
	// reverse-order compensation sweep.
	executed    []string
	compensated []string
	err         error
}

// SagaOption configures a new saga.
type SagaOption func(*Saga)

// WithID overrides the generated transaction ID.
func WithID(id string) SagaOption {
	return func(s *Saga) {
		s.id = id
	}
}

// NewSaga creates an empty saga in the pending state with a generated
// transaction ID.
func NewSaga(name string, opts ...SagaOption) *Saga {
	s := &Saga{
		id:      uuid.New().String(),
		name:    name,
		context: NewContext(),
		machine: newLifecycle(StatePending),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the saga's transaction ID.
func (s *Saga) ID() string {
	return s.id
}

// Name returns the saga's human-readable name.
func (s *Saga) Name() string {
	return s.name
}

// Context returns the saga's key-value context.
func (s *Saga) Context() *Context {
	return s.context
}

// State returns the saga's current lifecycle state.
func (s *Saga) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.machine.MustState().(State)
}

// AddStep appends a step as its own sequential stage. It fails with
// ErrInvalidState once execution has begun and with ErrDuplicateStep if the
// name is already taken.
func (s *Saga) AddStep(step *Step) error {
	return s.AddParallelSteps(step)
}

// AddParallelSteps appends one stage whose steps may run concurrently. The
// stage as a whole still executes strictly after everything appended before
// it and strictly before everything appended after.
func (s *Saga) AddParallelSteps(steps ...*Step) error {
	if len(steps) == 0 {
		return invalidStatef("empty stage")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if state := s.machine.MustState().(State); state != StatePending {
		return invalidStatef("cannot add steps to saga %s in state %s", s.id, state)
	}
	for _, step := range steps {
		if s.stepNames.Contains(step.Name()) {
			return fmt.Errorf("%w: %s", ErrDuplicateStep, step.Name())
		}
	}
	for _, step := range steps {
		s.stepNames.Insert(step.Name())
	}
	s.stages = append(s.stages, steps)
	return nil
}

// Steps returns all steps in stage order.
func (s *Saga) Steps() []*Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps := make([]*Step, 0, s.stepNames.Len())
	for _, stage := range s.stages {
		steps = append(steps, stage...)
	}
	return steps
}

// TotalSteps returns the number of steps across all stages.
func (s *Saga) TotalSteps() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stepNames.Len()
}

// ExecutedSteps returns the names of steps whose forward action completed,
// in execution order.
func (s *Saga) ExecutedSteps() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.executed...)
}

// CompensatedSteps returns the names of steps whose compensation completed,
// in compensation order.
func (s *Saga) CompensatedSteps() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.compensated...)
}

// Err returns the error that drove the saga into compensation, if any.
func (s *Saga) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Duration returns elapsed execution time: final once the saga has ended,
// running while it is in flight, zero before it starts.
func (s *Saga) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.startedAt.IsZero():
		return 0
	case s.endedAt.IsZero():
		return time.Since(s.startedAt)
	default:
		return s.endedAt.Sub(s.startedAt)
	}
}

// Status returns a point-in-time snapshot of the saga for callers.
func (s *Saga) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var duration time.Duration
	switch {
	case s.startedAt.IsZero():
	case s.endedAt.IsZero():
		duration = time.Since(s.startedAt)
	default:
		duration = s.endedAt.Sub(s.startedAt)
	}

	var errMsg string
	if s.err != nil {
		errMsg = s.err.Error()
	}

	total := 0
	for _, stage := range s.stages {
		total += len(stage)
	}

	return Status{
		ID:               s.id,
		Name:             s.name,
		State:            s.machine.MustState().(State),
		TotalSteps:       total,
		ExecutedSteps:    len(s.executed),
		CompensatedSteps: len(s.compensated),
		Duration:         duration,
		Err:              errMsg,
	}
}

// transition fires a lifecycle trigger, converting illegal transitions into
// ErrInvalidState.
func (s *Saga) transition(trigger string) error {
	if err := s.machine.Fire(trigger); err != nil {
		return invalidStatef(
			"saga %s cannot %s from state %s",
			s.id, trigger, s.machine.MustState().(State),
		)
	}
	return nil
}

// start transitions pending -> executing and records the start time. A saga
// instance executes at most once; a second start is ErrInvalidState.
func (s *Saga) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(triggerStart); err != nil {
		return err
	}
	s.startedAt = time.Now()
	return nil
}

// complete transitions executing -> completed and stamps the end time.
func (s *Saga) complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(triggerComplete); err != nil {
		return err
	}
	s.endedAt = time.Now()
	return nil
}

// beginCompensation transitions executing|completed -> compensating.
func (s *Saga) beginCompensation() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(triggerCompensate)
}

// finishCompensation transitions to compensated, or to failed when any
// step's compensation exhausted its retries.
func (s *Saga) finishCompensation(fullyCompensated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trigger := triggerCompensated
	if !fullyCompensated {
		trigger = triggerFail
	}
	if err := s.transition(trigger); err != nil {
		return err
	}
	s.endedAt = time.Now()
	return nil
}

func (s *Saga) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// recordExecuted appends a step name to the execution history. Entries are
// never reordered or removed.
func (s *Saga) recordExecuted(stepName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, stepName)
}

// recordCompensated appends a step name to the compensation history.
func (s *Saga) recordCompensated(stepName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compensated = append(s.compensated, stepName)
}

// findStep returns the step with the given name, or nil.
func (s *Saga) findStep(name string) *Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, stage := range s.stages {
		for _, step := range stage {
			if step.Name() == name {
				return step
			}
		}
	}
	return nil
}

// stageList returns the stages for plan construction.
func (s *Saga) stageList() [][]*Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stages
}

// restore rebinds a fresh saga instance to a journal snapshot: same ID,
// recovered context, executed history replayed onto the steps, and the
// lifecycle forced to the snapshot's in-flight state so compensation can
// proceed. Used only by the Recoverer.
func (s *Saga) restore(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state := s.machine.MustState().(State); state != StatePending {
		return invalidStatef("cannot restore saga %s in state %s", s.id, state)
	}
	if snap.State != StateExecuting && snap.State != StateCompensating {
		return invalidStatef("snapshot for %s is %s, not in flight", snap.ID, snap.State)
	}

	if err := s.context.restore(snap.Context); err != nil {
		return err
	}

	s.id = snap.ID
	s.executed = append([]string(nil), snap.ExecutedSteps...)
	s.compensated = append([]string(nil), snap.CompensatedSteps...)
	for _, stage := range s.stages {
		for _, step := range stage {
			for _, name := range snap.ExecutedSteps {
				if step.Name() == name {
					step.markExecuted()
				}
			}
			for _, name := range snap.CompensatedSteps {
				if step.Name() == name {
					step.markCompensated()
				}
			}
		}
	}
	s.machine = newLifecycle(StateExecuting)
	s.startedAt = time.Now()
	return nil
}
