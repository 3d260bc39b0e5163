package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidPath           = errors.New("invalid path")
	ErrDuplicatePath         = errors.New("duplicate path")
	ErrNotFound              = errors.New("not found")
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrInvalidStepTransition = errors.New("invalid step transition")
	ErrMissingPrerequisite   = errors.New("missing prerequisite")
	ErrConfigCorrupt         = errors.New("config corrupt")
	ErrRegistryLocked        = errors.New("registry locked")
	ErrRegistryCorrupt       = errors.New("registry corrupt")
	ErrStepFailed            = errors.New("step failed")
	ErrInterrupted           = errors.New("interrupted")
	ErrCancelled             = errors.New("cancelled")
)

var kindNames = []struct {
	marker error
	name   string
}{
	{ErrInvalidPath, "InvalidPath"},
	{ErrDuplicatePath, "DuplicatePath"},
	{ErrNotFound, "NotFound"},
	{ErrInvalidStepTransition, "InvalidStepTransition"},
	{ErrInvalidTransition, "InvalidTransition"},
	{ErrMissingPrerequisite, "MissingPrerequisite"},
	{ErrConfigCorrupt, "ConfigCorrupt"},
	{ErrRegistryLocked, "RegistryLocked"},
	{ErrRegistryCorrupt, "RegistryCorrupt"},
	{ErrCancelled, "Cancelled"},
	{ErrInterrupted, "Interrupted"},
	{ErrStepFailed, "StepFailed"},
}

// Error describes a failure together with the batch and step it concerns.
type Error struct {
	Kind    error
	BatchID string
	Step    string
	State   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 4)
	if e.Kind != nil {
		parts = append(parts, e.Kind.Error())
	}
	if id := strings.TrimSpace(e.BatchID); id != "" {
		parts = append(parts, "batch "+id)
	}
	if step := strings.TrimSpace(e.Step); step != "" {
		label := "step " + step
		if state := strings.TrimSpace(e.State); state != "" {
			label += " (" + state + ")"
		}
		parts = append(parts, label)
	} else if state := strings.TrimSpace(e.State); state != "" {
		parts = append(parts, "state "+state)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		return "batchflow failure"
	}
	return strings.Join(parts, ": ")
}

// Unwrap exposes both the marker and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Wrap tags err with a marker and the batch/step it concerns. The marker
// should be one of the exported sentinel errors above.
func Wrap(marker error, batchID, step, message string, err error) error {
	if marker == nil {
		marker = ErrStepFailed
	}
	return &Error{Kind: marker, BatchID: batchID, Step: step, Message: message, Err: err}
}

// WrapState is Wrap with the last-known state of the batch or step attached.
func WrapState(marker error, batchID, step, state, message string, err error) error {
	if marker == nil {
		marker = ErrStepFailed
	}
	return &Error{Kind: marker, BatchID: batchID, Step: step, State: state, Message: message, Err: err}
}

// Detail is the machine-readable projection of an error.
type Detail struct {
	Kind    string `json:"kind"`
	BatchID string `json:"batch_id,omitempty"`
	Step    string `json:"step,omitempty"`
	State   string `json:"state,omitempty"`
	Message string `json:"message"`
}

// Details extracts a Detail from any error, falling back to the plain message.
func Details(err error) Detail {
	if err == nil {
		return Detail{}
	}
	detail := Detail{Kind: KindName(err), Message: err.Error()}
	var typed *Error
	if errors.As(err, &typed) {
		detail.BatchID = typed.BatchID
		detail.Step = typed.Step
		detail.State = typed.State
		msg := strings.TrimSpace(typed.Message)
		if typed.Err != nil {
			if msg != "" {
				msg = fmt.Sprintf("%s: %v", msg, typed.Err)
			} else {
				msg = typed.Err.Error()
			}
		}
		if msg != "" {
			detail.Message = msg
		}
	}
	return detail
}

// KindName returns the taxonomy name for err, or "Internal" when err carries
// no known marker.
func KindName(err error) string {
	for _, entry := range kindNames {
		if errors.Is(err, entry.marker) {
			return entry.name
		}
	}
	return "Internal"
}

// KindMarker returns the sentinel registered under a taxonomy name.
func KindMarker(name string) (error, bool) {
	for _, entry := range kindNames {
		if entry.name == name {
			return entry.marker, true
		}
	}
	return nil, false
}
