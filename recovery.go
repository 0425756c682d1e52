package unwind

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// BindFunc reconstructs a fresh saga for a journal snapshot: same name, same
// steps, not yet executed. Step closures cannot be persisted, so the host
// application supplies them again; a step's effect survives the restart
// through the snapshot's executed records and context.
type BindFunc func(snap Snapshot) (*Saga, error)

// Recoverer finds sagas that a previous process left in flight and forces
// their compensation.
type Recoverer struct {
	coordinator *Coordinator
	journal     *Journal
	logger      *zap.Logger
}

// NewRecoverer creates a recoverer over the coordinator and journal.
func NewRecoverer(coordinator *Coordinator, journal *Journal, opts ...RecovererOption) *Recoverer {
	r := &Recoverer{
		coordinator: coordinator,
		journal:     journal,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecovererOption configures a Recoverer.
type RecovererOption func(*Recoverer)

// WithRecoveryLogger attaches a structured logger.
func WithRecoveryLogger(logger *zap.Logger) RecovererOption {
	return func(r *Recoverer) {
		r.logger = logger
	}
}

// Recover rebinds one snapshot onto a fresh saga instance and compensates
// everything the snapshot records as executed.
func (r *Recoverer) Recover(ctx context.Context, saga *Saga, snap Snapshot) (*ExecutionResult, error) {
	if err := saga.restore(snap); err != nil {
		return nil, err
	}

	r.logger.Info("recovering saga",
		zap.String("saga_id", snap.ID),
		zap.String("saga", snap.Name),
		zap.String("state", string(snap.State)),
		zap.Int("executed_steps", len(snap.ExecutedSteps)))

	return r.coordinator.Compensate(ctx, saga)
}

// RecoverAll walks every in-flight snapshot in the journal and compensates
// each, using bind to reconstruct the saga's steps. Individual failures do
// not stop the pass; they are reported together at the end.
func (r *Recoverer) RecoverAll(ctx context.Context, bind BindFunc) ([]*ExecutionResult, error) {
	pending := r.journal.Pending()
	results := make([]*ExecutionResult, 0, len(pending))

	var errs []error
	for _, snap := range pending {
		saga, err := bind(snap)
		if err != nil {
			r.logger.Error("failed to bind saga for recovery",
				zap.String("saga_id", snap.ID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("bind %s: %w", snap.ID, err))
			continue
		}

		result, err := r.Recover(ctx, saga, snap)
		if err != nil {
			errs = append(errs, fmt.Errorf("recover %s: %w", snap.ID, err))
			continue
		}
		results = append(results, result)
	}

	if len(errs) > 0 {
		return results, fmt.Errorf("recovery completed with %d failure(s): %w", len(errs), errs[0])
	}
	return results, nil
}
