// Package workflow is the per-batch step state machine.
//
// A Manager holds the shared collaborators (registry, executor, run journal)
// and the table of runs active in this process. Machine binds a Manager to a
// single batch and exposes Run, Revert, RunAll, Validate, and Cancel. Every
// transition is checked and committed under the registry lock before the
// call returns; the executor itself runs outside the lock.
//
// Runner wraps Machine.Run on a worker goroutine and streams progress
// events on a channel for interactive callers.
package workflow
