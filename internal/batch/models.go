package batch

import (
	"strings"
	"time"
)

// Lifecycle is the operator-facing status of a batch.
type Lifecycle string

const (
	LifecycleActive    Lifecycle = "active"
	LifecycleCompleted Lifecycle = "completed"
	LifecycleArchived  Lifecycle = "archived"
)

// StepStatus is the execution status of one step within one batch.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// FailureReason explains why a step ended up failed.
type FailureReason string

const (
	ReasonStepFailed  FailureReason = "step_failed"
	ReasonInterrupted FailureReason = "interrupted"
	ReasonCancelled   FailureReason = "cancelled"
)

type stepTransition struct {
	from StepStatus
	to   StepStatus
}

var legalStepTransitions = map[stepTransition]struct{}{
	{from: StepPending, to: StepRunning}:   {},
	{from: StepRunning, to: StepCompleted}: {},
	{from: StepRunning, to: StepFailed}:    {},
	{from: StepCompleted, to: StepPending}: {},
	{from: StepFailed, to: StepPending}:    {},
}

// CanTransition reports whether a step may move from one status to another.
func CanTransition(from, to StepStatus) bool {
	_, ok := legalStepTransitions[stepTransition{from: from, to: to}]
	return ok
}

// ParseStepStatus converts a string into a known StepStatus.
func ParseStepStatus(value string) (StepStatus, bool) {
	status := StepStatus(strings.ToLower(strings.TrimSpace(value)))
	switch status {
	case StepPending, StepRunning, StepCompleted, StepFailed:
		return status, true
	default:
		return "", false
	}
}

// ParseLifecycle converts a string into a known Lifecycle.
func ParseLifecycle(value string) (Lifecycle, bool) {
	status := Lifecycle(strings.ToLower(strings.TrimSpace(value)))
	switch status {
	case LifecycleActive, LifecycleCompleted, LifecycleArchived:
		return status, true
	default:
		return "", false
	}
}

// StepRecord is the persisted state of one named step within one batch.
type StepRecord struct {
	Name           string        `json:"name"`
	Status         StepStatus    `json:"status"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	LastRunAt      *time.Time    `json:"last_run_at,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
	FailureReason  FailureReason `json:"failure_reason,omitempty"`
	LastReportPath string        `json:"last_report_path,omitempty"`
	Forced         bool          `json:"forced,omitempty"`
	OwnerPID       int           `json:"owner_pid,omitempty"`
	OwnerSession   string        `json:"owner_session,omitempty"`
	OwnerStarted   string        `json:"owner_started,omitempty"`
}

// Owner identifies the process session that started a run. Started is the
// owner process's start stamp; it is empty where the platform cannot report
// one.
type Owner struct {
	PID     int
	Session string
	Started string
}

// Batch is one unit of work over a directory of source images.
type Batch struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	RootPath  string       `json:"root_path"`
	Status    Lifecycle    `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Steps     []StepRecord `json:"steps"`
}

// New builds a batch with one pending record per step name, in order.
func New(id, name, rootPath string, stepNames []string, now time.Time) *Batch {
	steps := make([]StepRecord, len(stepNames))
	for i, stepName := range stepNames {
		steps[i] = StepRecord{Name: stepName, Status: StepPending}
	}
	return &Batch{
		ID:        id,
		Name:      name,
		RootPath:  rootPath,
		Status:    LifecycleActive,
		CreatedAt: now,
		UpdatedAt: now,
		Steps:     steps,
	}
}

// StepIndex returns the zero-based position of a step, or -1.
func (b *Batch) StepIndex(name string) int {
	name = strings.TrimSpace(name)
	for i := range b.Steps {
		if b.Steps[i].Name == name {
			return i
		}
	}
	return -1
}

// Step returns the record for a step name.
func (b *Batch) Step(name string) (*StepRecord, bool) {
	idx := b.StepIndex(name)
	if idx < 0 {
		return nil, false
	}
	return &b.Steps[idx], true
}

// Predecessor returns the record preceding name, or nil for the first step.
func (b *Batch) Predecessor(name string) *StepRecord {
	idx := b.StepIndex(name)
	if idx <= 0 {
		return nil
	}
	return &b.Steps[idx-1]
}

// RunningStep returns the step currently marked running, if any.
func (b *Batch) RunningStep() (*StepRecord, bool) {
	for i := range b.Steps {
		if b.Steps[i].Status == StepRunning {
			return &b.Steps[i], true
		}
	}
	return nil, false
}

// FirstPending returns the index of the first pending step, or -1.
func (b *Batch) FirstPending() int {
	for i := range b.Steps {
		if b.Steps[i].Status == StepPending {
			return i
		}
	}
	return -1
}

// AllCompleted reports whether every step has completed.
func (b *Batch) AllCompleted() bool {
	if len(b.Steps) == 0 {
		return false
	}
	for i := range b.Steps {
		if b.Steps[i].Status != StepCompleted {
			return false
		}
	}
	return true
}

// DeriveLifecycle recomputes the lifecycle status from the step records.
// Archived batches keep their status until reactivated.
func (b *Batch) DeriveLifecycle() {
	if b.Status == LifecycleArchived {
		return
	}
	if b.AllCompleted() {
		b.Status = LifecycleCompleted
		return
	}
	b.Status = LifecycleActive
}

// Counts tallies steps by status.
func (b *Batch) Counts() map[StepStatus]int {
	counts := make(map[StepStatus]int, 4)
	for i := range b.Steps {
		counts[b.Steps[i].Status]++
	}
	return counts
}

// Clone returns a deep copy safe to hand to callers.
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Steps = make([]StepRecord, len(b.Steps))
	for i, rec := range b.Steps {
		cp.Steps[i] = rec.clone()
	}
	return &cp
}

func (r StepRecord) clone() StepRecord {
	cp := r
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.LastRunAt != nil {
		t := *r.LastRunAt
		cp.LastRunAt = &t
	}
	return cp
}

// Owner returns the recorded owner of a running step.
func (r StepRecord) Owner() Owner {
	return Owner{PID: r.OwnerPID, Session: r.OwnerSession, Started: r.OwnerStarted}
}

// MarkRunning records the start of a run owned by owner.
func (r *StepRecord) MarkRunning(now time.Time, owner Owner, forced bool) {
	r.Status = StepRunning
	r.StartedAt = &now
	r.LastError = ""
	r.FailureReason = ""
	r.Forced = forced
	r.OwnerPID = owner.PID
	r.OwnerSession = owner.Session
	r.OwnerStarted = owner.Started
}

// MarkCompleted records a successful run.
func (r *StepRecord) MarkCompleted(now time.Time, reportPath string) {
	r.Status = StepCompleted
	r.LastRunAt = &now
	r.LastError = ""
	r.FailureReason = ""
	r.LastReportPath = reportPath
	r.clearOwner()
}

// MarkFailed records a terminal failure with its reason and detail.
func (r *StepRecord) MarkFailed(now time.Time, reason FailureReason, message, reportPath string) {
	if reason == "" {
		reason = ReasonStepFailed
	}
	r.Status = StepFailed
	r.LastRunAt = &now
	r.LastError = strings.TrimSpace(message)
	if r.LastError == "" {
		r.LastError = string(reason)
	}
	r.FailureReason = reason
	if reportPath != "" {
		r.LastReportPath = reportPath
	}
	r.clearOwner()
}

// Reset returns the step to pending and clears every run field.
func (r *StepRecord) Reset() {
	r.Status = StepPending
	r.StartedAt = nil
	r.LastRunAt = nil
	r.LastError = ""
	r.FailureReason = ""
	r.LastReportPath = ""
	r.Forced = false
	r.clearOwner()
}

func (r *StepRecord) clearOwner() {
	r.OwnerPID = 0
	r.OwnerSession = ""
	r.OwnerStarted = ""
}
