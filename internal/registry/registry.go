package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"batchflow/internal/batch"
	"batchflow/internal/batchpath"
	"batchflow/internal/logging"
	"batchflow/internal/pipeline"
	"batchflow/internal/procutil"
	"batchflow/internal/services"
)

const (
	defaultLockTimeout = 10 * time.Second
	defaultLockRetry   = 50 * time.Millisecond
	minPrefixLength    = 4
)

// Options configures a Registry.
type Options struct {
	Path        string
	LockTimeout time.Duration
	LockRetry   time.Duration
	Logger      *slog.Logger
	// Steps is the ordered pipeline every batch is created with. Defaults to
	// pipeline.Names().
	Steps []string
	// Session identifies this process's runs. Defaults to a random UUID.
	Session string
	// PID is recorded as the owner of steps this registry marks running.
	PID int
	// ProcessAlive reports whether a recorded owner pid still exists.
	ProcessAlive func(pid int) bool
	// ProcessStart returns a pid's start stamp, or "" when unknown.
	ProcessStart func(pid int) string
	Now          func() time.Time
}

// Registry is the durable catalog of batches.
type Registry struct {
	path        string
	lock        *flock.Flock
	sem         chan struct{}
	lockTimeout time.Duration
	lockRetry   time.Duration
	logger      *slog.Logger
	steps       []string
	session     string
	pid         int
	alive       func(int) bool
	startOf     func(int) string
	started     string
	now         func() time.Time
	closeOnce   sync.Once
}

// Open prepares a registry backed by opts.Path. The file is created on the
// first write.
func Open(opts Options) (*Registry, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("registry path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve registry path: %w", err)
	}

	r := &Registry{
		path:        abs,
		lock:        flock.New(abs + ".lock"),
		sem:         make(chan struct{}, 1),
		lockTimeout: opts.LockTimeout,
		lockRetry:   opts.LockRetry,
		logger:      logging.NewComponentLogger(opts.Logger, "registry"),
		steps:       append([]string(nil), opts.Steps...),
		session:     strings.TrimSpace(opts.Session),
		pid:         opts.PID,
		alive:       opts.ProcessAlive,
		startOf:     opts.ProcessStart,
		now:         opts.Now,
	}
	if r.lockTimeout <= 0 {
		r.lockTimeout = defaultLockTimeout
	}
	if r.lockRetry <= 0 {
		r.lockRetry = defaultLockRetry
	}
	if len(r.steps) == 0 {
		r.steps = pipeline.Names()
	}
	if r.session == "" {
		r.session = uuid.NewString()
	}
	if r.pid <= 0 {
		r.pid = os.Getpid()
	}
	if r.alive == nil {
		r.alive = procutil.Alive
	}
	if r.startOf == nil {
		r.startOf = procutil.StartStamp
	}
	r.started = r.startOf(r.pid)
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	sessions.acquire(r.session)
	return r, nil
}

// Close releases the registry's session. Steps it left running are then
// reported as interrupted by any registry, including one in this process.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() { sessions.release(r.session) })
	return nil
}

// Path returns the registry file location.
func (r *Registry) Path() string { return r.path }

// Session returns the identifier stamped on runs started through this registry.
func (r *Registry) Session() string { return r.session }

// PID returns the owner pid stamped on runs started through this registry.
func (r *Registry) PID() int { return r.pid }

// Owner returns the identity stamped on runs started through this registry.
func (r *Registry) Owner() batch.Owner {
	return batch.Owner{PID: r.pid, Session: r.session, Started: r.started}
}

// Now returns the registry clock's current time.
func (r *Registry) Now() time.Time { return r.now() }

// Create registers a new batch rooted at rootPath with every step pending.
func (r *Registry) Create(ctx context.Context, name, rootPath string) (*batch.Batch, error) {
	root, err := batchpath.CheckRoot(rootPath)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = filepath.Base(root)
	}

	var created *batch.Batch
	err = r.mutate(ctx, func(doc *document) error {
		for _, existing := range doc.Batches {
			if samePath(existing.RootPath, root) {
				return services.Wrap(services.ErrDuplicatePath, existing.ID, "",
					fmt.Sprintf("%s is already registered as %q", root, existing.Name), nil)
			}
		}
		created = batch.New(uuid.NewString(), name, root, r.steps, r.now())
		doc.Batches = append(doc.Batches, created)
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("batch created",
		logging.String(logging.FieldEventType, "batch_created"),
		logging.String(logging.FieldBatchID, created.ID),
		logging.String("name", created.Name),
		logging.String("root", created.RootPath),
	)
	return created.Clone(), nil
}

// List returns batches, most recently modified first. Archived batches are
// included only when includeArchived is set.
func (r *Registry) List(ctx context.Context, includeArchived bool) ([]*batch.Batch, error) {
	var out []*batch.Batch
	err := r.view(ctx, func(doc *document) error {
		for _, b := range doc.Batches {
			if !includeArchived && b.Status == batch.LifecycleArchived {
				continue
			}
			out = append(out, b.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Get returns one batch by id or unique id prefix.
func (r *Registry) Get(ctx context.Context, ref string) (*batch.Batch, error) {
	var found *batch.Batch
	err := r.view(ctx, func(doc *document) error {
		b, err := find(doc, ref)
		if err != nil {
			return err
		}
		found = b.Clone()
		return nil
	})
	return found, err
}

// Update applies fn to the stored batch and persists the result. fn sees a
// working copy; returning an error discards every change. UpdatedAt is bumped
// and the lifecycle re-derived before the write.
func (r *Registry) Update(ctx context.Context, ref string, fn func(*batch.Batch) error) (*batch.Batch, error) {
	var updated *batch.Batch
	err := r.mutate(ctx, func(doc *document) error {
		current, err := find(doc, ref)
		if err != nil {
			return err
		}
		working := current.Clone()
		if err := fn(working); err != nil {
			return err
		}
		working.ID = current.ID
		working.RootPath = current.RootPath
		working.CreatedAt = current.CreatedAt
		working.UpdatedAt = r.now()
		working.DeriveLifecycle()
		replace(doc, working)
		updated = working.Clone()
		return nil
	})
	return updated, err
}

// Archive hides a batch from the default listing. A batch with a running step
// cannot be archived.
func (r *Registry) Archive(ctx context.Context, ref string) (*batch.Batch, error) {
	b, err := r.Update(ctx, ref, func(b *batch.Batch) error {
		if b.Status == batch.LifecycleArchived {
			return services.WrapState(services.ErrInvalidTransition, b.ID, "", string(b.Status), "batch is already archived", nil)
		}
		if running, ok := b.RunningStep(); ok {
			return services.WrapState(services.ErrInvalidTransition, b.ID, running.Name, string(running.Status),
				"cannot archive while a step is running", nil)
		}
		b.Status = batch.LifecycleArchived
		return nil
	})
	if err == nil {
		r.logger.Info("batch archived",
			logging.String(logging.FieldEventType, "batch_archived"),
			logging.String(logging.FieldBatchID, b.ID))
	}
	return b, err
}

// Reactivate returns an archived batch to active or completed, whichever its
// steps imply.
func (r *Registry) Reactivate(ctx context.Context, ref string) (*batch.Batch, error) {
	b, err := r.Update(ctx, ref, func(b *batch.Batch) error {
		if b.Status != batch.LifecycleArchived {
			return services.WrapState(services.ErrInvalidTransition, b.ID, "", string(b.Status), "only archived batches can be reactivated", nil)
		}
		b.Status = batch.LifecycleActive
		return nil
	})
	if err == nil {
		r.logger.Info("batch reactivated",
			logging.String(logging.FieldEventType, "batch_reactivated"),
			logging.String(logging.FieldBatchID, b.ID),
			logging.String("status", string(b.Status)))
	}
	return b, err
}

// Rename changes the display name of a batch.
func (r *Registry) Rename(ctx context.Context, ref, name string) (*batch.Batch, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("batch name is required")
	}
	return r.Update(ctx, ref, func(b *batch.Batch) error {
		b.Name = name
		return nil
	})
}

// Remove deletes the registry entry of an archived or completed batch. The
// batch's working directory is left untouched.
func (r *Registry) Remove(ctx context.Context, ref string) (*batch.Batch, error) {
	var removed *batch.Batch
	err := r.mutate(ctx, func(doc *document) error {
		current, err := find(doc, ref)
		if err != nil {
			return err
		}
		if current.Status != batch.LifecycleArchived && current.Status != batch.LifecycleCompleted {
			return services.WrapState(services.ErrInvalidTransition, current.ID, "", string(current.Status),
				"only archived or completed batches can be removed", nil)
		}
		if running, ok := current.RunningStep(); ok {
			return services.WrapState(services.ErrInvalidTransition, current.ID, running.Name, string(running.Status),
				"cannot remove while a step is running", nil)
		}
		kept := doc.Batches[:0]
		for _, b := range doc.Batches {
			if b.ID != current.ID {
				kept = append(kept, b)
			}
		}
		doc.Batches = kept
		removed = current.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("batch removed",
		logging.String(logging.FieldEventType, "batch_removed"),
		logging.String(logging.FieldBatchID, removed.ID),
		logging.String("root", removed.RootPath))
	return removed, nil
}

// view runs fn against a reconciled snapshot. Reconciliation results are
// persisted even though fn itself is read-only.
func (r *Registry) view(ctx context.Context, fn func(*document) error) error {
	return r.withLock(ctx, func() error {
		doc, err := r.read()
		if err != nil {
			return err
		}
		changed := r.reconcile(ctx, doc)
		if err := fn(doc); err != nil {
			return err
		}
		if changed {
			return r.write(doc)
		}
		return nil
	})
}

func (r *Registry) mutate(ctx context.Context, fn func(*document) error) error {
	return r.withLock(ctx, func() error {
		doc, err := r.read()
		if err != nil {
			return err
		}
		r.reconcile(ctx, doc)
		if err := fn(doc); err != nil {
			return err
		}
		return r.write(doc)
	})
}

func find(doc *document, ref string) (*batch.Batch, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, services.Wrap(services.ErrNotFound, "", "", "batch id is required", nil)
	}
	for _, b := range doc.Batches {
		if b.ID == ref {
			return b, nil
		}
	}
	if len(ref) < minPrefixLength {
		return nil, services.Wrap(services.ErrNotFound, ref, "", "no batch with this id", nil)
	}
	var matches []*batch.Batch
	for _, b := range doc.Batches {
		if strings.HasPrefix(b.ID, ref) {
			matches = append(matches, b)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, services.Wrap(services.ErrNotFound, ref, "", "no batch with this id", nil)
	default:
		return nil, services.Wrap(services.ErrNotFound, ref, "",
			fmt.Sprintf("id prefix is ambiguous (%d batches)", len(matches)), nil)
	}
}

func replace(doc *document, updated *batch.Batch) {
	for i, b := range doc.Batches {
		if b.ID == updated.ID {
			doc.Batches[i] = updated
			return
		}
	}
}

func samePath(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ra, errA := filepath.EvalSymlinks(a)
	rb, errB := filepath.EvalSymlinks(b)
	return errA == nil && errB == nil && ra == rb
}
