package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireLockConflict(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, "supervisor")
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if lock.PID != os.Getpid() {
		t.Errorf("Expected lock held by current pid %d, got %d", os.Getpid(), lock.PID)
	}

	// Holder is alive, second acquire must fail
	if _, err := AcquireLock(dir, "second"); err == nil {
		t.Fatal("Expected conflict acquiring a held lock")
	}

	if err := ReleaseLock(dir); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	if _, err := AcquireLock(dir, "second"); err != nil {
		t.Fatalf("Expected acquire after release to succeed: %v", err)
	}
}

func TestAcquireLockTakesOverStaleLock(t *testing.T) {
	dir := t.TempDir()
	hostname, _ := os.Hostname()

	// PIDs beyond pid_max cannot exist, so the holder reads as dead
	stale := &DaemonLock{
		Holder:    "old-run",
		PID:       1 << 30,
		Hostname:  hostname,
		StartedAt: time.Now().Add(-time.Hour),
		Version:   1,
	}
	data, err := json.Marshal(stale)
	if err != nil {
		t.Fatalf("Failed to marshal stale lock: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, lockFileName), data, 0o644); err != nil {
		t.Fatalf("Failed to write stale lock: %v", err)
	}

	lock, err := AcquireLock(dir, "supervisor")
	if err != nil {
		t.Fatalf("Expected takeover of stale lock: %v", err)
	}
	if lock.Holder != "supervisor" || lock.PID != os.Getpid() {
		t.Errorf("Takeover lock wrong: %+v", lock)
	}
}

func TestAcquireLockIgnoresCorruptLockFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, lockFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("Failed to write corrupt lock: %v", err)
	}
	if _, err := AcquireLock(dir, "supervisor"); err != nil {
		t.Fatalf("Expected corrupt lock to be replaced: %v", err)
	}
}

func TestReleaseLockMissingIsNoError(t *testing.T) {
	if err := ReleaseLock(t.TempDir()); err != nil {
		t.Fatalf("ReleaseLock on empty dir failed: %v", err)
	}
}

func TestInspectLock(t *testing.T) {
	dir := t.TempDir()

	if lock, _ := InspectLock(dir); lock != nil {
		t.Fatalf("Expected no lock on empty dir, got %+v", lock)
	}

	if _, err := AcquireLock(dir, "supervisor"); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	lock, alive := InspectLock(dir)
	if lock == nil || !alive {
		t.Fatalf("Expected live lock, got lock=%+v alive=%v", lock, alive)
	}
	if lock.Holder != "supervisor" || lock.PID != os.Getpid() {
		t.Errorf("Lock fields wrong: %+v", lock)
	}

	if err := ReleaseLock(dir); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	if lock, _ := InspectLock(dir); lock != nil {
		t.Fatalf("Expected no lock after release, got %+v", lock)
	}
}
