package unwind

// Package unwind provides an orchestrated implementation of compensating
// transactions (sagas) in Go.
//
// A saga is an ordered sequence of steps, each pairing a forward action with
// a compensating action that semantically undoes it. The coordinator runs the
// steps in order; when one fails, it walks the steps that completed so far in
// strict reverse order and invokes their compensations, with a bounded retry
// budget per step. For more on distributed sagas, see this 2017 JOTB talk by
// Caitie McCaffrey: https://www.youtube.com/watch?v=0UTOLRTwOX0
//
// Overview
//
// 1. Define your steps as function pairs:
//    - Write a forward function and a compensation function for each unit of
//      work, and package them with `NewStep`. Use `NoOpCompensation` for
//      steps with nothing to undo.
// 2. Build a saga:
//    - Create one with `NewSaga` and append steps with `AddStep` (or
//      `AddParallelSteps` for steps that may run concurrently).
//    - Steps pass data forward through the saga's key-value Context; each
//      step's output is stored under the step's name.
// 3. Run it:
//    - Create a `Coordinator` with `NewCoordinator`, optionally configuring a
//      timeout, compensation retries, a logger, and a `Journal`.
//    - `Execute` returns an `ExecutionResult` describing what completed, what
//      failed, and what was undone.
// 4. Recover after a crash:
//    - Attach a `Journal` and flush it to a `Store` (`NewMemoryStore`,
//      `NewFileStore`). On restart, a `Recoverer` finds sagas that were still
//      in flight and forces their compensation.
//
// For runnable, documented examples, see the `examples` directory.
