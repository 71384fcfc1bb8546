package status

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
)

// fileLock is a PID lock file serializing writers across processes.
// Locks left behind by dead processes are reclaimed.
type fileLock struct {
	path string
}

const (
	lockPollInterval = 10 * time.Millisecond
	emptyLockGrace   = time.Second
)

// acquire blocks until the lock is held, ctx is done or timeout passes.
func (l *fileLock) acquire(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		held, err := l.tryAcquire()
		if err != nil {
			return err
		}
		if held {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New(errors.ErrCodeStoreLocked, fmt.Sprintf("status lock %s is held by another process", l.path)).
				WithSuggestion("Wait for the other devflow process to finish").
				WithSuggestion("Remove the lock file if no devflow process is running")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (l *fileLock) tryAcquire() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err == nil {
		_, writeErr := fmt.Fprintf(f, "%d", os.Getpid())
		f.Close()
		if writeErr != nil {
			os.Remove(l.path)
			return false, fmt.Errorf("failed to write lock file: %w", writeErr)
		}
		return true, nil
	}
	if !os.IsExist(err) {
		return false, fmt.Errorf("failed to create lock file: %w", err)
	}

	data, readErr := os.ReadFile(l.path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			// Released between our create and read.
			return false, nil
		}
		return false, fmt.Errorf("failed to read existing lock file: %w", readErr)
	}

	pid, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
	if parseErr == nil && processExists(pid) {
		return false, nil
	}
	if len(data) == 0 {
		// The holder may not have written its PID yet.
		if info, statErr := os.Stat(l.path); statErr == nil && time.Since(info.ModTime()) < emptyLockGrace {
			return false, nil
		}
	}

	if removeErr := os.Remove(l.path); removeErr != nil && !os.IsNotExist(removeErr) {
		return false, fmt.Errorf("failed to remove stale lock file: %w", removeErr)
	}
	return false, nil
}

func (l *fileLock) release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// processExists checks for a live process with kill(pid, 0).
func processExists(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
