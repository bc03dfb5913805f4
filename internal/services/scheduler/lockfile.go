package scheduler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
)

// ErrLockHeld is returned by Start when another live scheduler instance
// owns the lock file for the same data directory.
var ErrLockHeld = errors.New("scheduler lock held by another process")

// lockStaleAfter is how old the lock file may grow before it is considered
// abandoned. The owning process refreshes the file well inside this window.
const lockStaleAfter = 2 * time.Minute

// lockFile enforces single-instance scheduling per data directory. The file
// holds the owner's PID as text; a lock is stale when the file is older than
// lockStaleAfter or the PID no longer maps to a live process.
type lockFile struct {
	path   string
	logger arbor.ILogger
}

func newLockFile(path string, logger arbor.ILogger) *lockFile {
	return &lockFile{path: path, logger: logger}
}

// Acquire claims the lock, reclaiming a stale one if present. Returns
// ErrLockHeld when a live instance owns it.
func (l *lockFile) Acquire() error {
	data, err := os.ReadFile(l.path)
	if err == nil {
		pid, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))

		fresh := false
		if info, statErr := os.Stat(l.path); statErr == nil {
			fresh = time.Since(info.ModTime()) <= lockStaleAfter
		}
		alive := parseErr == nil && processAlive(pid)

		if fresh && alive {
			return fmt.Errorf("%w (pid %d)", ErrLockHeld, pid)
		}

		l.logger.Warn().
			Int("pid", pid).
			Str("path", l.path).
			Msg("Reclaiming stale scheduler lock")

		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read lock file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	// O_EXCL so two processes reclaiming the same stale lock cannot both win.
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w (lost creation race)", ErrLockHeld)
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	_, writeErr := fmt.Fprintf(f, "%d\n", os.Getpid())
	closeErr := f.Close()
	if writeErr != nil {
		_ = os.Remove(l.path)
		return fmt.Errorf("failed to write lock file: %w", writeErr)
	}
	if closeErr != nil {
		_ = os.Remove(l.path)
		return fmt.Errorf("failed to close lock file: %w", closeErr)
	}

	l.logger.Debug().
		Str("path", l.path).
		Int("pid", os.Getpid()).
		Msg("Scheduler lock acquired")

	return nil
}

// Touch refreshes the lock's modification time so other processes keep
// seeing it as live. Called periodically while the scheduler runs.
func (l *lockFile) Touch() error {
	now := time.Now()
	if err := os.Chtimes(l.path, now, now); err != nil {
		return fmt.Errorf("failed to refresh lock file: %w", err)
	}
	return nil
}

// Release removes the lock file. Safe to call when the lock is already gone.
func (l *lockFile) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// processAlive reports whether pid maps to a live process. Signal 0 probes
// existence without delivering anything.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
