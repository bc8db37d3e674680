package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

const lockFileName = "supervisor.lock"

// DaemonLock marks a data directory as owned by a running supervisor.
// Only one supervisor may manage a worker's data directory at a time.
type DaemonLock struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	Version   int       `json:"version"`
}

// AcquireLock claims exclusive ownership of the data directory. A lock
// left behind by a process that no longer exists is taken over.
func AcquireLock(dir, holder string) (*DaemonLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	path := filepath.Join(dir, lockFileName)

	if existing := readLock(path); existing != nil {
		if isProcessAlive(existing.PID, existing.Hostname) {
			return nil, fmt.Errorf("data directory %s is locked by %s (pid %d on %s, since %s)",
				dir, existing.Holder, existing.PID, existing.Hostname,
				existing.StartedAt.Format(time.RFC3339))
		}
		fmt.Printf("[storage] Taking over stale lock held by pid %d\n", existing.PID)
	}

	hostname, _ := os.Hostname()
	lock := &DaemonLock{
		Holder:    holder,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		Version:   storeVersion,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	return lock, nil
}

// InspectLock reports the lock currently held on dir and whether its
// holder is still alive. Returns nil when the directory is unlocked.
func InspectLock(dir string) (*DaemonLock, bool) {
	lock := readLock(filepath.Join(dir, lockFileName))
	if lock == nil {
		return nil, false
	}
	return lock, isProcessAlive(lock.PID, lock.Hostname)
}

// ReleaseLock removes the lock file. Releasing an absent lock is not an error.
func ReleaseLock(dir string) error {
	path := filepath.Join(dir, lockFileName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// readLock returns the current lock, or nil when missing or unreadable.
// A corrupt lock file is treated as stale.
func readLock(path string) *DaemonLock {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var lock DaemonLock
	if err := json.Unmarshal(data, &lock); err != nil {
		fmt.Printf("[storage] Ignoring corrupt lock file %s: %v\n", path, err)
		return nil
	}
	if lock.PID <= 0 {
		return nil
	}
	return &lock
}

// isProcessAlive checks whether the lock holder still exists. A lock
// written on another host cannot be verified and is assumed live.
func isProcessAlive(pid int, hostname string) bool {
	host, err := os.Hostname()
	if err == nil && hostname != "" && host != hostname {
		return true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user
	return errors.Is(err, syscall.EPERM)
}
