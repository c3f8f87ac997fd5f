// Package pidfile guards against a second daemon instance. Two instances
// would register the hotkey twice and fight over the backend process.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile is the lock held by the running daemon.
type PIDFile struct {
	path string
	pid  int
}

// DefaultPath returns the standard lock location for the named binary.
func DefaultPath(appName string) string {
	return filepath.Join(os.Getenv("HOME"), ".cache", "stt", appName+".pid")
}

// New claims the lock at path. A live process holding it is an error; a
// stale file left by a crashed daemon is removed and reclaimed.
func New(path string) (*PIDFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create pid directory: %w", err)
	}

	if data, err := os.ReadFile(path); err == nil {
		pidStr := strings.TrimSpace(string(data))
		if existingPID, err := strconv.Atoi(pidStr); err == nil {
			if isProcessRunning(existingPID) {
				return nil, fmt.Errorf("another instance is already running (PID %d)", existingPID)
			}
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("remove stale pid file: %w", err)
			}
		}
	}

	currentPID := os.Getpid()
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", currentPID)), 0o644); err != nil {
		return nil, fmt.Errorf("write pid file: %w", err)
	}

	return &PIDFile{path: path, pid: currentPID}, nil
}

// Remove releases the lock. It only deletes the file while it still carries
// this process's PID, so a restarted daemon's lock is never clobbered.
func (p *PIDFile) Remove() error {
	if p == nil {
		return nil
	}
	if data, err := os.ReadFile(p.path); err == nil {
		pidStr := strings.TrimSpace(string(data))
		if pid, err := strconv.Atoi(pidStr); err == nil && pid == p.pid {
			return os.Remove(p.path)
		}
	}
	return nil
}

// isProcessRunning probes pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Unix; the signal probe is the real check.
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if err == syscall.ESRCH {
		return false
	}
	if err == syscall.EPERM {
		// Exists, but owned by someone else.
		return true
	}
	return false
}
