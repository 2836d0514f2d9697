// Package filelock provides an exclusive advisory lock on a file with a
// bounded wait, shared by every skref process on the machine.
package filelock

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"skref/internal/errors"
)

// DefaultPollInterval is how often a blocked Acquire retries.
const DefaultPollInterval = 50 * time.Millisecond

// Lock represents an exclusive lock held on a file.
type Lock struct {
	path string
	file *os.File
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// TryAcquire attempts to take the lock without waiting.
// Returns ErrLocked (wrapped) if another holder has it.
func TryAcquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := tryLock(file); err != nil {
		_ = file.Close()
		if content, readErr := os.ReadFile(path); readErr == nil && len(content) > 0 {
			return nil, fmt.Errorf("%w (held by PID %s)", ErrLocked, strings.TrimSpace(string(content)))
		}
		return nil, ErrLocked
	}

	// Record our PID for diagnostics
	if err := file.Truncate(0); err == nil {
		if _, err := file.Seek(0, 0); err == nil {
			_, _ = file.WriteString(strconv.Itoa(os.Getpid()))
		}
	}

	return &Lock{path: path, file: file}, nil
}

// ErrLocked reports that another holder has the lock.
var ErrLocked = stderrors.New("lock is held by another process")

// Acquire waits up to timeout for the lock, polling every poll interval.
// An expired wait fails with LOCK_TIMEOUT; a cancelled context returns
// the context error.
func Acquire(ctx context.Context, path string, timeout, poll time.Duration) (*Lock, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	deadline := time.Now().Add(timeout)

	for {
		lock, err := TryAcquire(path)
		if err == nil {
			return lock, nil
		}
		if !isLocked(err) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, errors.NewSkrefError(errors.LockTimeout,
				fmt.Sprintf("timed out after %s waiting for %s", timeout, filepath.Base(path)), err)
		}

		wait := poll
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Release unlocks and closes the lock file. The file itself is left in
// place so that waiters never lock an unlinked inode.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}
	_ = l.file.Truncate(0)
	_ = unlock(l.file)
	_ = l.file.Close()
	l.file = nil
}

func isLocked(err error) bool {
	return stderrors.Is(err, ErrLocked)
}
