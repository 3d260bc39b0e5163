package workflow

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"batchflow/internal/batch"
	"batchflow/internal/config"
	"batchflow/internal/history"
	"batchflow/internal/logging"
	"batchflow/internal/notifications"
	"batchflow/internal/registry"
	"batchflow/internal/services"
	"batchflow/internal/stepexec"
)

// Options configures a Manager.
type Options struct {
	Registry *registry.Registry
	Executor *stepexec.Executor
	// History is optional; a nil store disables the run journal.
	History *history.Store
	// Config supplies collaborator binary names for validation.
	Config *config.Config
	// Notifier is optional; nil disables alerts.
	Notifier notifications.Notifier
	Logger   *slog.Logger
}

// Manager coordinates step transitions for every batch in a registry.
type Manager struct {
	registry *registry.Registry
	executor *stepexec.Executor
	history  *history.Store
	cfg      *config.Config
	notifier notifications.Notifier
	logger   *slog.Logger

	mu     sync.Mutex
	active map[runKey]context.CancelFunc
}

type runKey struct {
	batchID string
	step    string
}

// NewManager constructs a Manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		registry: opts.Registry,
		executor: opts.Executor,
		history:  opts.History,
		cfg:      opts.Config,
		notifier: opts.Notifier,
		logger:   logging.NewComponentLogger(opts.Logger, "workflow"),
		active:   make(map[runKey]context.CancelFunc),
	}
	if m.notifier == nil {
		m.notifier = notifications.Noop()
	}
	if m.executor == nil {
		m.executor = stepexec.New(stepexec.Options{Logger: opts.Logger})
	}
	return m
}

// Registry returns the catalog the manager mutates.
func (m *Manager) Registry() *registry.Registry { return m.registry }

// Executor returns the executor used for runs.
func (m *Manager) Executor() *stepexec.Executor { return m.executor }

// Machine resolves ref (an ID or unique prefix) and returns the state
// machine for that batch.
func (m *Manager) Machine(ctx context.Context, ref string) (*Machine, error) {
	b, err := m.registry.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &Machine{manager: m, batchID: b.ID}, nil
}

// Active lists the runs this process is currently executing.
func (m *Manager) Active() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]string, len(m.active))
	for key := range m.active {
		out[key.batchID] = append(out[key.batchID], key.step)
	}
	return out
}

// CancelAll cancels every run active in this process.
func (m *Manager) CancelAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cancel := range m.active {
		cancel()
	}
	return len(m.active)
}

func (m *Manager) track(batchID, step string, cancel context.CancelFunc) func() {
	key := runKey{batchID: batchID, step: step}
	m.mu.Lock()
	m.active[key] = cancel
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.active, key)
		m.mu.Unlock()
	}
}

func (m *Manager) cancelActive(batchID, step string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cancel, ok := m.active[runKey{batchID: batchID, step: step}]
	if ok {
		cancel()
	}
	return ok
}

func (m *Manager) stepLogger(ctx context.Context, batchID, step string) *slog.Logger {
	return logging.WithContext(services.WithStep(services.WithBatchID(ctx, batchID), step), m.logger)
}

func (m *Manager) record(ctx context.Context, b *batch.Batch, step string, entry history.Entry) {
	if m.history == nil || b == nil {
		return
	}
	entry.BatchID = b.ID
	entry.BatchName = b.Name
	entry.Step = step
	entry.Session = m.registry.Session()
	if _, err := m.history.Record(context.WithoutCancel(ctx), entry); err != nil {
		logging.WarnWithContext(m.stepLogger(ctx, b.ID, step), "failed to record run history",
			"history_record_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the history database path and permissions"),
			logging.String(logging.FieldImpact, "run is missing from batchflow history"),
		)
	}
}

func stepState(b *batch.Batch, step string) string {
	if b == nil {
		return ""
	}
	rec, ok := b.Step(step)
	if !ok {
		return ""
	}
	return strings.TrimSpace(string(rec.Status))
}

// notifyOutcome alerts on failed steps and on the step that completes a
// batch. Operator cancellations are not alerted.
func (m *Manager) notifyOutcome(ctx context.Context, b *batch.Batch, outcome stepexec.Outcome) {
	if b == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	var err error
	switch {
	case outcome.Success && b.Status == batch.LifecycleCompleted:
		err = m.notifier.BatchCompleted(ctx, b)
	case !outcome.Success && outcome.Reason != batch.ReasonCancelled:
		err = m.notifier.StepFailed(ctx, b, outcome.Step, outcome.Reason, outcome.ErrorDetail)
	}
	if err != nil {
		logging.WarnWithContext(m.stepLogger(ctx, b.ID, outcome.Step), "notification failed",
			"notification_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}
