// Package supervisor wires the subsystem together: one worker process,
// its log stream, the signature registry, telemetry, and escalation
// dispatch, exposed through a small control surface and an event stream.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitbosshq/pitboss/internal/config"
	"github.com/pitbosshq/pitboss/internal/dispatch"
	"github.com/pitbosshq/pitboss/internal/events"
	"github.com/pitbosshq/pitboss/internal/logwatch"
	"github.com/pitbosshq/pitboss/internal/metrics"
	"github.com/pitbosshq/pitboss/internal/pattern"
	"github.com/pitbosshq/pitboss/internal/process"
	"github.com/pitbosshq/pitboss/internal/storage"
	"github.com/pitbosshq/pitboss/internal/telemetry"
	"github.com/pitbosshq/pitboss/internal/triage"
	"github.com/pitbosshq/pitboss/internal/types"
)

// lockHolder names the daemon in the data-directory lock file
const lockHolder = "pitboss-supervisor"

// Supervisor owns one worker process and everything observing it. All
// log lines and stats ticks funnel through a single consumer loop;
// state shared with other goroutines is returned as deep copies.
type Supervisor struct {
	mu          sync.Mutex
	running     bool
	startedOnce bool

	cfg        *config.Config
	instanceID string

	store      storage.Store
	registry   *pattern.Registry
	manager    *process.Manager
	watcher    *logwatch.Watcher
	aggregator *telemetry.Aggregator
	deduper    *dispatch.Deduper
	deliverer  *dispatch.Deliverer
	emitter    *events.Emitter
	collector  *metrics.Collector
	annotator  *triage.Annotator

	recentMatches []*types.PatternMatch

	watchStop func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// New builds a supervisor and its storage backend from configuration
func New(cfg *config.Config) (*Supervisor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	store, err := storage.NewStore(storage.Config{
		Backend:      cfg.Storage.Backend,
		Dir:          cfg.Storage.DataDir,
		HeartbeatMax: cfg.Telemetry.HeartbeatMax,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return NewWithStore(cfg, store)
}

// NewWithStore builds a supervisor around an existing store. The
// supervisor takes ownership of the store and closes it on Stop.
func NewWithStore(cfg *config.Config, store storage.Store) (*Supervisor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	emitter := events.NewEmitter()
	registry := pattern.NewRegistry(store)
	manager := process.NewManager(cfg.Worker, emitter)
	watcher := logwatch.NewWatcher(registry, cfg.Integrations)

	feed, err := telemetry.NewFileFeed(cfg.FeedPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry feed: %w", err)
	}

	aggregator, err := telemetry.NewAggregator(&telemetry.Deps{
		Process:  manager,
		Stream:   watcher,
		Patterns: registry,
		Store:    store,
		Feed:     feed,
		Events:   emitter,
		Interval: cfg.Telemetry.Interval.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry aggregator: %w", err)
	}

	s := &Supervisor{
		cfg:        cfg,
		instanceID: uuid.New().String(),
		store:      store,
		registry:   registry,
		manager:    manager,
		watcher:    watcher,
		aggregator: aggregator,
		deduper:    dispatch.NewDeduper(cfg.Dispatch.DedupWindow.Std(), cfg.Dispatch.DedupRetention.Std()),
		deliverer:  dispatch.NewDeliverer(emitter, cfg.Dispatch.RatePerSecond, cfg.Dispatch.RateBurst),
		emitter:    emitter,
		collector:  metrics.NewCollector(),
		now:        time.Now,
	}

	if cfg.Triage.Enabled {
		annotator, err := triage.NewAnnotator(&triage.Config{Model: cfg.Triage.Model})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to initialize triage annotator: %v (continuing without annotations)\n", err)
		} else {
			s.annotator = annotator
		}
	}

	emitter.OnEvent(s.handleEvent)
	return s, nil
}

// Start claims the data directory, loads the pattern registry, spawns
// the worker, and brings up the consumer loop and telemetry. Fails
// synchronously on configuration problems such as a missing worker
// source directory.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("supervisor already running")
	}
	s.mu.Unlock()

	if _, err := storage.AcquireLock(s.cfg.Storage.DataDir, lockHolder); err != nil {
		return fmt.Errorf("failed to acquire daemon lock: %w", err)
	}

	if err := s.registry.Load(ctx); err != nil {
		s.releaseLock()
		return fmt.Errorf("failed to load pattern registry: %w", err)
	}

	if fs, ok := s.store.(*storage.FileStore); ok {
		stop, err := s.registry.WatchFile(fs.PatternsPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: pattern hot reload disabled: %v\n", err)
		} else {
			s.mu.Lock()
			s.watchStop = stop
			s.mu.Unlock()
		}
	}

	if err := s.manager.Start(ctx); err != nil {
		s.stopWatchFile()
		s.releaseLock()
		return err
	}

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.mu.Unlock()

	if err := s.aggregator.Start(s.ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: telemetry loop did not start: %v\n", err)
	}

	if s.cfg.Metrics.Enabled {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.collector.Serve(s.ctx, s.cfg.Metrics.Addr); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: metrics server failed: %v\n", err)
			}
		}()
	}

	s.wg.Add(1)
	go s.consumeLoop()

	fmt.Printf("[supervisor] Started (instance %s)\n", s.instanceID)
	return nil
}

// Stop shuts the supervisor down: worker, loops, timers, lock. Safe to
// call when already stopped.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.aggregator.Stop()
	s.stopWatchFile()

	err := s.manager.Stop(ctx)
	s.wg.Wait()

	s.releaseLock()
	if cerr := s.store.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", cerr)
	}
	fmt.Println("[supervisor] Stopped")
	return err
}

// Restart cycles the worker process (stop, settle, start). The
// supervisor loops keep running throughout.
func (s *Supervisor) Restart(ctx context.Context) error {
	fmt.Println("[supervisor] Restarting worker")
	return s.manager.Restart(ctx)
}

// GetStatus returns the full control-surface aggregate as deep copies
func (s *Supervisor) GetStatus() *types.SupervisorStatus {
	s.mu.Lock()
	running := s.running
	matches := make([]*types.PatternMatch, len(s.recentMatches))
	for i, m := range s.recentMatches {
		matches[i] = m.Clone()
	}
	s.mu.Unlock()

	return &types.SupervisorStatus{
		InstanceID:    s.instanceID,
		Running:       running,
		Process:       s.manager.State(),
		Telemetry:     s.aggregator.Latest(),
		Patterns:      s.registry.Stats(),
		RecentMatches: matches,
	}
}

// SetDispatchExecutor injects the escalation boundary function. Until
// one is set, escalations are skipped with a warning.
func (s *Supervisor) SetDispatchExecutor(fn dispatch.Executor) {
	s.deliverer.SetExecutor(fn)
	fmt.Println("[supervisor] Dispatch executor configured")
}

// Events exposes the supervisor event stream for subscribers
func (s *Supervisor) Events() *events.Emitter {
	return s.emitter
}

// Registry exposes the pattern registry for review tooling
func (s *Supervisor) Registry() *pattern.Registry {
	return s.registry
}

func (s *Supervisor) releaseLock() {
	if err := storage.ReleaseLock(s.cfg.Storage.DataDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

func (s *Supervisor) stopWatchFile() {
	s.mu.Lock()
	stop := s.watchStop
	s.watchStop = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}
