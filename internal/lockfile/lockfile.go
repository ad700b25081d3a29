// Package lockfile enforces the Durable Store's "single process owns the
// store at a time" invariant with an OS-level PID file, independent of
// SQLite's own locking. Grounded on the teacher's deploy.PIDFile/Guard
// pattern, generalized from a daemon-singleton guard to a reusable guard
// over any data directory the composition root opens a store in.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const fileName = "loomwork.lock"

// Lock guards a data directory against concurrent ownership by more than
// one loomworkd process.
type Lock struct {
	path string
}

// New returns a Lock for the given data directory.
func New(dataDir string) *Lock {
	return &Lock{path: filepath.Join(dataDir, fileName)}
}

// Path returns the full path to the lock file.
func (l *Lock) Path() string { return l.path }

// Acquire fails if another live process already holds the lock, otherwise
// writes the current PID and takes ownership.
func (l *Lock) Acquire() error {
	pid, held := l.heldBy()
	if held {
		return fmt.Errorf("store already owned by running process (pid=%d, lock=%s)", pid, l.path)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	if err := os.WriteFile(l.path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

// Release removes the lock file. Safe to call if no lock is held.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// heldBy reports the owning PID if the lock is held by a live process,
// reclaiming (deleting) a stale lock left by a process that died without
// releasing it.
func (l *Lock) heldBy() (int, bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	if !processAlive(pid) {
		_ = os.Remove(l.path)
		return 0, false
	}
	return pid, true
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
