package docstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// LockFileName is the lock file created inside a plan directory.
const LockFileName = ".planstore.lock"

// ErrLocked is returned by TryLock when another holder has the plan.
var ErrLocked = stderrors.New("plan is locked by another process")

const lockPollInterval = 25 * time.Millisecond

// PlanLock is an exclusive flock(2) on a plan directory. Every mutating
// entrypoint holds one, so two processes never interleave batches on the
// same plan. The lock belongs to the open file description: two PlanLocks
// in one process exclude each other too.
type PlanLock struct {
	f *os.File
}

// Lock blocks until planDir's lock is acquired.
func Lock(planDir string) (*PlanLock, error) {
	return acquire(planDir, syscall.LOCK_EX)
}

// TryLock acquires planDir's lock or fails with ErrLocked at once.
func TryLock(planDir string) (*PlanLock, error) {
	return acquire(planDir, syscall.LOCK_EX|syscall.LOCK_NB)
}

// LockContext polls for planDir's lock until it is acquired or ctx ends.
func LockContext(ctx context.Context, planDir string) (*PlanLock, error) {
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		l, err := TryLock(planDir)
		if !stderrors.Is(err, ErrLocked) {
			return l, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for plan lock: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func acquire(planDir string, how int) (*PlanLock, error) {
	f, err := os.OpenFile(filepath.Join(planDir, LockFileName), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		_ = f.Close()
		if stderrors.Is(err, syscall.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("flock: %w", err)
	}
	return &PlanLock{f: f}, nil
}

// Unlock releases the lock. Unlocking a nil or released lock is a no-op.
func (l *PlanLock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	uerr := syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	cerr := f.Close()
	if uerr != nil {
		return fmt.Errorf("funlock: %w", uerr)
	}
	return cerr
}
