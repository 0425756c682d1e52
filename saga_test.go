package unwind

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopStep(name string) *Step {
	return NewStep(name,
		func(ctx context.Context, sc *Context) (any, error) { return nil, nil },
		NoOpCompensation,
	)
}

func TestNewSagaDefaults(t *testing.T) {
	saga := NewSaga("order-processing")
	assert.NotEmpty(t, saga.ID())
	assert.Equal(t, "order-processing", saga.Name())
	assert.Equal(t, StatePending, saga.State())
	assert.Zero(t, saga.TotalSteps())
	assert.NoError(t, saga.Err())

	other := NewSaga("order-processing")
	assert.NotEqual(t, saga.ID(), other.ID())

	withID := NewSaga("order-processing", WithID("txn-42"))
	assert.Equal(t, "txn-42", withID.ID())
}

func TestSagaAddStepOrdering(t *testing.T) {
	saga := NewSaga("order-processing")
	require.NoError(t, saga.AddStep(noopStep("A")))
	require.NoError(t, saga.AddParallelSteps(noopStep("B1"), noopStep("B2")))
	require.NoError(t, saga.AddStep(noopStep("C")))

	assert.Equal(t, 4, saga.TotalSteps())
	names := make([]string, 0, 4)
	for _, step := range saga.Steps() {
		names = append(names, step.Name())
	}
	assert.Equal(t, []string{"A", "B1", "B2", "C"}, names)
}

func TestSagaRejectsDuplicateStepNames(t *testing.T) {
	saga := NewSaga("order-processing")
	require.NoError(t, saga.AddStep(noopStep("A")))

	err := saga.AddStep(noopStep("A"))
	assert.ErrorIs(t, err, ErrDuplicateStep)
	assert.Equal(t, 1, saga.TotalSteps())

	// A duplicate inside a parallel stage is rejected too.
	err = saga.AddParallelSteps(noopStep("B"), noopStep("B"))
	assert.ErrorIs(t, err, ErrDuplicateStep)
}

func TestSagaLifecycleTransitions(t *testing.T) {
	saga := NewSaga("order-processing")
	require.NoError(t, saga.AddStep(noopStep("A")))

	require.NoError(t, saga.start())
	assert.Equal(t, StateExecuting, saga.State())

	// Completing twice is a lifecycle violation.
	require.NoError(t, saga.complete())
	assert.Equal(t, StateCompleted, saga.State())
	assert.ErrorIs(t, saga.complete(), ErrInvalidState)

	// Completed sagas may still be rolled back manually.
	require.NoError(t, saga.beginCompensation())
	assert.Equal(t, StateCompensating, saga.State())
	require.NoError(t, saga.finishCompensation(true))
	assert.Equal(t, StateCompensated, saga.State())

	assert.ErrorIs(t, saga.start(), ErrInvalidState)
}

func TestSagaPartialCompensationEndsFailed(t *testing.T) {
	saga := NewSaga("order-processing")
	require.NoError(t, saga.AddStep(noopStep("A")))
	require.NoError(t, saga.start())
	require.NoError(t, saga.beginCompensation())
	require.NoError(t, saga.finishCompensation(false))
	assert.Equal(t, StateFailed, saga.State())

	// A failed saga can be swept again once the operator intervenes.
	require.NoError(t, saga.beginCompensation())
	assert.Equal(t, StateCompensating, saga.State())
}

func TestSagaRestoreFromSnapshot(t *testing.T) {
	saga := NewSaga("order-processing")
	stepA := noopStep("A")
	stepB := noopStep("B")
	stepC := noopStep("C")
	require.NoError(t, saga.AddStep(stepA))
	require.NoError(t, saga.AddStep(stepB))
	require.NoError(t, saga.AddStep(stepC))

	snap := Snapshot{
		ID:               "txn-7",
		Name:             "order-processing",
		State:            StateExecuting,
		ExecutedSteps:    []string{"A", "B"},
		CompensatedSteps: []string{"B"},
		Context:          json.RawMessage(`{"order_id":"order-123"}`),
	}
	require.NoError(t, saga.restore(snap))

	assert.Equal(t, "txn-7", saga.ID())
	assert.Equal(t, StateExecuting, saga.State())
	assert.Equal(t, []string{"A", "B"}, saga.ExecutedSteps())
	assert.Equal(t, "order-123", saga.Context().GetString("order_id"))
	assert.True(t, stepA.Executed())
	assert.True(t, stepB.Executed())
	assert.True(t, stepB.Compensated())
	assert.False(t, stepC.Executed())
}

func TestSagaRestoreRejectsSettledSnapshots(t *testing.T) {
	saga := NewSaga("order-processing")
	require.NoError(t, saga.AddStep(noopStep("A")))

	err := saga.restore(Snapshot{ID: "txn-8", State: StateCompleted})
	assert.ErrorIs(t, err, ErrInvalidState)

	// A saga that already started cannot be rebound either.
	started := NewSaga("order-processing")
	require.NoError(t, started.AddStep(noopStep("A")))
	require.NoError(t, started.start())
	err = started.restore(Snapshot{ID: "txn-9", State: StateExecuting})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSagaStatusSnapshot(t *testing.T) {
	saga := NewSaga("order-processing", WithID("txn-1"))
	require.NoError(t, saga.AddStep(noopStep("A")))
	require.NoError(t, saga.AddStep(noopStep("B")))
	require.NoError(t, saga.start())
	saga.recordExecuted("A")

	status := saga.Status()
	assert.Equal(t, "txn-1", status.ID)
	assert.Equal(t, "order-processing", status.Name)
	assert.Equal(t, StateExecuting, status.State)
	assert.Equal(t, 2, status.TotalSteps)
	assert.Equal(t, 1, status.ExecutedSteps)
	assert.Zero(t, status.CompensatedSteps)
}
