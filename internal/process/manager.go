// Package process owns the worker child process: spawn, graceful stop,
// manual restart, and exponential-backoff auto-restart after crashes.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/mod/semver"
	"golang.org/x/sync/errgroup"

	"github.com/pitbosshq/pitboss/internal/config"
	"github.com/pitbosshq/pitboss/internal/events"
	"github.com/pitbosshq/pitboss/internal/types"
)

// ErrAlreadyRunning is returned by Start when the worker is up
var ErrAlreadyRunning = errors.New("worker already running")

// SupervisedEnv marks the worker environment so it can tell it is
// running under the supervisor
const SupervisedEnv = "PITBOSS_SUPERVISED=1"

// lineBuffer is the capacity of the shared output channel
const lineBuffer = 256

// Manager runs exactly one worker process at a time and tracks its
// state machine. Output is exposed as a line channel that stays open
// across restarts.
type Manager struct {
	mu    sync.Mutex
	cfg   config.WorkerConfig
	state *types.ProcessState

	cmd         *exec.Cmd
	exitCh      chan struct{}
	autoRestart bool
	stopRequest bool
	restarting  bool
	restartTmr  *time.Timer

	lines     chan Line
	drainCh   chan struct{}
	drainOnce sync.Once
	linesOnce sync.Once

	events *events.Emitter
	now    func() time.Time
}

// NewManager creates a manager for the configured worker
func NewManager(cfg config.WorkerConfig, emitter *events.Emitter) *Manager {
	return &Manager{
		cfg:         cfg,
		state:       &types.ProcessState{Status: types.StatusStopped},
		autoRestart: cfg.AutoRestart,
		lines:       make(chan Line, lineBuffer),
		drainCh:     make(chan struct{}),
		events:      emitter,
		now:         time.Now,
	}
}

// Lines returns the worker output channel. It stays open across
// restarts and closes only when the manager itself is closed.
func (m *Manager) Lines() <-chan Line {
	return m.lines
}

// State returns a copy of the current process state
func (m *Manager) State() *types.ProcessState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Start validates the worker source and spawns the process. Refuses
// with ErrAlreadyRunning when the worker is up.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()

	switch m.state.Status {
	case types.StatusRunning, types.StatusStarting, types.StatusStopping:
		m.mu.Unlock()
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, m.state.PID)
	}

	if err := validateWorkerSource(m.cfg); err != nil {
		m.state.Status = types.StatusErrored
		m.state.LastError = err.Error()
		now := m.now()
		m.state.LastErrorTime = &now
		m.mu.Unlock()
		return err
	}

	m.state.Status = types.StatusStarting
	m.stopRequest = false

	args := append([]string(nil), m.cfg.Args...)
	if m.cfg.EntryFile != "" {
		args = append(args, m.cfg.EntryFile)
	}
	cmd := exec.Command(m.cfg.Command, args...)
	cmd.Dir = m.cfg.SourceDir
	cmd.Env = append(os.Environ(), SupervisedEnv)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		m.failStartLocked(err)
		m.mu.Unlock()
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		m.failStartLocked(err)
		m.mu.Unlock()
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		m.failStartLocked(err)
		m.mu.Unlock()
		m.events.Emit(events.NewErrorEvent(err.Error(), false))
		return fmt.Errorf("failed to spawn worker: %w", err)
	}

	now := m.now()
	m.cmd = cmd
	m.state.Status = types.StatusRunning
	m.state.PID = cmd.Process.Pid
	m.state.StartTime = &now
	m.autoRestart = m.cfg.AutoRestart
	exitCh := make(chan struct{})
	m.exitCh = exitCh
	pid := m.state.PID
	m.mu.Unlock()

	fmt.Printf("[process] Worker started (pid %d)\n", pid)
	m.events.Emit(events.NewStartedEvent(pid))

	var g errgroup.Group
	g.Go(func() error { return m.scanStream(stdout, StreamStdout) })
	g.Go(func() error { return m.scanStream(stderr, StreamStderr) })

	go m.monitor(cmd, &g, exitCh)
	return nil
}

// failStartLocked records a spawn failure. Caller holds the lock.
func (m *Manager) failStartLocked(err error) {
	now := m.now()
	m.state.Status = types.StatusErrored
	m.state.LastError = err.Error()
	m.state.LastErrorTime = &now
}

// monitor waits for the scanners to drain both pipes, then reaps the
// process and routes the exit through crash handling.
func (m *Manager) monitor(cmd *exec.Cmd, g *errgroup.Group, exitCh chan struct{}) {
	if err := g.Wait(); err != nil {
		m.events.Emit(events.NewErrorEvent(err.Error(), false))
	}

	code := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
			m.mu.Lock()
			m.state.LastError = err.Error()
			now := m.now()
			m.state.LastErrorTime = &now
			m.mu.Unlock()
			m.events.Emit(events.NewErrorEvent(err.Error(), false))
		}
	}

	m.handleExit(code)
	close(exitCh)
}

// handleExit applies the state transition for a process exit and, for
// crashes with auto-restart enabled, schedules the backed-off restart.
func (m *Manager) handleExit(code int) {
	m.mu.Lock()
	now := m.now()
	m.cmd = nil
	m.state.PID = 0

	var scheduled time.Duration
	var consecutive int
	switch {
	case m.stopRequest:
		m.state.Status = types.StatusStopped
	case code == 0:
		// Clean exit resets the error streak
		m.state.Status = types.StatusStopped
		m.state.ConsecutiveErrors = 0
	default:
		m.state.Status = types.StatusErrored
		m.state.ErrorCount++
		m.state.ConsecutiveErrors++
		m.state.LastError = fmt.Sprintf("worker exited with code %d", code)
		m.state.LastErrorTime = &now
		if m.autoRestart {
			m.state.RestartCount++
			consecutive = m.state.ConsecutiveErrors
			scheduled = backoffDelay(m.cfg.BackoffBase.Std(), m.cfg.BackoffMax.Std(), consecutive)
			m.restartTmr = time.AfterFunc(scheduled, m.autoRestartFire)
		}
	}
	m.mu.Unlock()

	if scheduled > 0 {
		fmt.Printf("[process] Worker crashed (code %d), restart in %s (consecutive errors: %d)\n",
			code, scheduled, consecutive)
	} else {
		fmt.Printf("[process] Worker exited (code %d)\n", code)
	}
	m.events.Emit(events.NewStoppedEvent(code))
}

func (m *Manager) autoRestartFire() {
	m.mu.Lock()
	armed := m.autoRestart
	m.mu.Unlock()
	if !armed {
		// A stop or manual restart disarmed us after scheduling
		return
	}
	if err := m.Start(context.Background()); err != nil {
		fmt.Printf("[process] Auto-restart failed: %v\n", err)
	}
}

// Stop terminates the worker gracefully, escalating to a kill after the
// stop timeout. Idempotent: stopping a stopped worker is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.autoRestart = false
	if m.restartTmr != nil {
		m.restartTmr.Stop()
		m.restartTmr = nil
	}
	if m.cmd == nil || m.cmd.Process == nil {
		m.state.Status = types.StatusStopped
		m.mu.Unlock()
		return nil
	}
	m.stopRequest = true
	m.state.Status = types.StatusStopping
	proc := m.cmd.Process
	exitCh := m.exitCh
	m.mu.Unlock()

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Already gone, the monitor will finish the bookkeeping
		fmt.Printf("[process] Termination signal failed: %v\n", err)
	}

	select {
	case <-exitCh:
		return nil
	case <-time.After(m.cfg.StopTimeout.Std()):
		fmt.Printf("[process] Worker ignored SIGTERM for %s, killing\n", m.cfg.StopTimeout)
		if err := proc.Kill(); err != nil {
			fmt.Printf("[process] Kill failed: %v\n", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-exitCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restart performs a manual stop/start cycle. Stop disarms auto-restart
// for the duration, so the cycle cannot race a backoff-scheduled
// restart; Start re-arms it per config.
func (m *Manager) Restart(ctx context.Context) error {
	m.mu.Lock()
	if m.restarting {
		m.mu.Unlock()
		return fmt.Errorf("restart already in progress")
	}
	m.restarting = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.restarting = false
		m.mu.Unlock()
	}()

	if err := m.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop worker for restart: %w", err)
	}

	select {
	case <-time.After(m.cfg.SettleDelay.Std()):
	case <-ctx.Done():
		return ctx.Err()
	}

	return m.Start(ctx)
}

// Close stops the worker and closes the line channel. The manager
// cannot be reused afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.drainOnce.Do(func() { close(m.drainCh) })
	err := m.Stop(ctx)
	m.linesOnce.Do(func() { close(m.lines) })
	return err
}

// RecordError folds an observed error line into process health
func (m *Manager) RecordError(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.state.ErrorCount++
	m.state.ConsecutiveErrors++
	m.state.LastError = text
	m.state.LastErrorTime = &now
}

// RecordSuccess resets the consecutive error streak after an observed
// successful operation
func (m *Manager) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.state.ConsecutiveErrors = 0
	m.state.LastSuccessTime = &now
}

// RecordDispatch remembers an escalation filed for this worker
func (m *Manager) RecordDispatch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.DispatchedBugs = append(m.state.DispatchedBugs, id)
}

// CheckRuntime runs the worker command with --version and verifies it
// meets the configured minimum
func (m *Manager) CheckRuntime(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, m.cfg.Command, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to run %s --version: %w", m.cfg.Command, err)
	}
	version := strings.TrimSpace(string(out))
	if m.cfg.RuntimeMinVersion == "" {
		return version, nil
	}

	v := version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return version, fmt.Errorf("could not parse runtime version %q", version)
	}
	if semver.Compare(v, m.cfg.RuntimeMinVersion) < 0 {
		return version, fmt.Errorf("runtime %s is below minimum %s", version, m.cfg.RuntimeMinVersion)
	}
	return version, nil
}

// validateWorkerSource checks the worker directory holds the expected
// manifest and entry files before any spawn attempt
func validateWorkerSource(cfg config.WorkerConfig) error {
	info, err := os.Stat(cfg.SourceDir)
	if err != nil {
		return fmt.Errorf("worker source directory %s does not exist", cfg.SourceDir)
	}
	if !info.IsDir() {
		return fmt.Errorf("worker source %s is not a directory", cfg.SourceDir)
	}
	if cfg.ManifestFile != "" {
		manifest := filepath.Join(cfg.SourceDir, cfg.ManifestFile)
		if _, err := os.Stat(manifest); err != nil {
			return fmt.Errorf("worker manifest %s not found", manifest)
		}
	}
	if cfg.EntryFile != "" {
		entry := filepath.Join(cfg.SourceDir, cfg.EntryFile)
		if _, err := os.Stat(entry); err != nil {
			return fmt.Errorf("worker entry file %s not found", entry)
		}
	}
	return nil
}
