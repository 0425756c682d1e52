package unwind

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNestedStepRunsChildToCompletion(t *testing.T) {
	rec := &callRecorder{}
	coordinator := NewCoordinator()

	child := NewSaga("provision-storage")
	require.NoError(t, child.AddStep(recordedStep(rec, "create_bucket")))
	require.NoError(t, child.AddStep(recordedStep(rec, "set_policy")))

	parent := NewSaga("provision-tenant")
	require.NoError(t, parent.AddStep(recordedStep(rec, "create_account")))
	require.NoError(t, parent.AddStep(NestedStep("storage", coordinator, child)))

	result, err := coordinator.Execute(context.Background(), parent)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, StateCompleted, parent.State())
	assert.Equal(t, StateCompleted, child.State())
	assert.Equal(t, []string{
		"do:create_account", "do:create_bucket", "do:set_policy",
	}, rec.list())
}

func TestNestedStepUnwindsChildOnLaterFailure(t *testing.T) {
	rec := &callRecorder{}
	coordinator := NewCoordinator()

	child := NewSaga("provision-storage")
	require.NoError(t, child.AddStep(recordedStep(rec, "create_bucket")))
	require.NoError(t, child.AddStep(recordedStep(rec, "set_policy")))

	parent := NewSaga("provision-tenant")
	require.NoError(t, parent.AddStep(recordedStep(rec, "create_account")))
	require.NoError(t, parent.AddStep(NestedStep("storage", coordinator, child)))
	require.NoError(t, parent.AddStep(failingStep(rec, "notify")))

	result, err := coordinator.Execute(context.Background(), parent)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "notify", result.FailedStep)
	assert.Equal(t, StateCompensated, parent.State())
	assert.Equal(t, StateCompensated, child.State())

	// The parent's sweep undoes the nested child first, and the child's own
	// steps unwind newest-first inside it.
	assert.Equal(t, []string{
		"do:create_account", "do:create_bucket", "do:set_policy", "do:notify",
		"undo:set_policy", "undo:create_bucket", "undo:create_account",
	}, rec.list())
}

func TestNestedStepChildFailureUnwindsParent(t *testing.T) {
	rec := &callRecorder{}
	coordinator := NewCoordinator()

	child := NewSaga("provision-storage")
	require.NoError(t, child.AddStep(recordedStep(rec, "create_bucket")))
	require.NoError(t, child.AddStep(failingStep(rec, "set_policy")))

	parent := NewSaga("provision-tenant")
	require.NoError(t, parent.AddStep(recordedStep(rec, "create_account")))
	require.NoError(t, parent.AddStep(NestedStep("storage", coordinator, child)))

	result, err := coordinator.Execute(context.Background(), parent)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "storage", result.FailedStep)
	assert.Equal(t, StateCompensated, parent.State())
	// The child already unwound itself when it failed; the parent only
	// undoes its own earlier steps.
	assert.Equal(t, StateCompensated, child.State())
	assert.Equal(t, []string{
		"do:create_account", "do:create_bucket", "do:set_policy",
		"undo:create_bucket", "undo:create_account",
	}, rec.list())
}
