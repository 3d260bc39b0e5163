package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"batchflow/internal/services"
)

// withLock serializes callers in this process through sem and across
// processes through the lock file, waiting at most lockTimeout for both.
func (r *Registry) withLock(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	lockCtx, cancel := context.WithTimeout(ctx, r.lockTimeout)
	defer cancel()

	select {
	case r.sem <- struct{}{}:
	case <-lockCtx.Done():
		return r.lockError(ctx)
	}
	defer func() { <-r.sem }()

	if err := os.MkdirAll(filepath.Dir(r.lock.Path()), 0o755); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}
	locked, err := r.lock.TryLockContext(lockCtx, r.lockRetry)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("acquire registry lock: %w", err)
	}
	if !locked {
		return r.lockError(ctx)
	}
	defer func() {
		_ = r.lock.Unlock()
	}()
	return fn()
}

func (r *Registry) lockError(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return services.Wrap(services.ErrRegistryLocked, "", "",
		fmt.Sprintf("%s held by another process for more than %s", r.lock.Path(), r.lockTimeout.Round(time.Millisecond)), nil)
}
