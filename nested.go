package unwind

import (
	"context"
	"fmt"
)

// NestedStep wraps a child saga as a single step of a parent saga. The
// forward action executes the child to completion; the compensation
// compensates the child's completed run. This composes under the ordinary
// Step contract:
//
//   - If the child fails mid-flight, it compensates itself and the forward
//     action reports failure, so the parent unwinds its own earlier steps.
//   - The parent's compensation only runs when the forward action succeeded,
//     which is exactly when the child is completed and can be rolled back.
func NestedStep(name string, coordinator *Coordinator, child *Saga, opts ...StepOption) *Step {
	forward := func(ctx context.Context, _ *Context) (any, error) {
		result, err := coordinator.Execute(ctx, child)
		if err != nil {
			return nil, err
		}
		if !result.Success {
			return nil, fmt.Errorf("child saga %s: %w", child.Name(), result.Err)
		}
		return result, nil
	}

	compensation := func(ctx context.Context, _ *Context) error {
		result, err := coordinator.Compensate(ctx, child)
		if err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("child saga %s: %w", child.Name(), result.Err)
		}
		return nil
	}

	return NewStep(name, forward, compensation, opts...)
}
