package workflow

import (
	"context"

	"batchflow/internal/stepexec"
	"batchflow/internal/steps"
)

// EventKind distinguishes runner events.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventDone     EventKind = "done"
)

// Event is one message from a background run.
type Event struct {
	Kind     EventKind
	BatchID  string
	Step     string
	Progress steps.Progress
	Outcome  stepexec.Outcome
	Err      error
}

const eventBuffer = 32

// Runner executes steps on worker goroutines so interactive callers are not
// blocked.
type Runner struct {
	machine *Machine
}

// NewRunner wraps a machine.
func NewRunner(machine *Machine) *Runner {
	return &Runner{machine: machine}
}

// Start runs step in the background. The returned channel delivers progress
// events, then exactly one EventDone, then closes. Progress events are
// dropped when the consumer falls behind; EventDone never is.
func (r *Runner) Start(ctx context.Context, step string, opts RunOptions) <-chan Event {
	events := make(chan Event, eventBuffer)
	batchID := r.machine.BatchID()
	go func() {
		defer close(events)
		progress := opts.Progress
		opts.Progress = func(p steps.Progress) {
			if progress != nil {
				progress(p)
			}
			// Keep the last slot free for EventDone.
			if len(events) < cap(events)-1 {
				events <- Event{Kind: EventProgress, BatchID: batchID, Step: step, Progress: p}
			}
		}
		outcome, err := r.machine.Run(ctx, step, opts)
		events <- Event{Kind: EventDone, BatchID: batchID, Step: step, Outcome: outcome, Err: err}
	}()
	return events
}

// Wait drains events until EventDone and returns it.
func Wait(events <-chan Event) Event {
	var done Event
	for ev := range events {
		if ev.Kind == EventDone {
			done = ev
		}
	}
	return done
}
