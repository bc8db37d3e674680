package telemetry

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/pitbosshq/pitboss/internal/events"
	"github.com/pitbosshq/pitboss/internal/logwatch"
	"github.com/pitbosshq/pitboss/internal/storage"
	"github.com/pitbosshq/pitboss/internal/types"
)

// DefaultInterval is the stock telemetry cadence
const DefaultInterval = 15 * time.Minute

// tickTimeout bounds one snapshot/append/publish cycle
const tickTimeout = 30 * time.Second

// ProcessInfo provides the process-side inputs to a snapshot
type ProcessInfo interface {
	State() *types.ProcessState
}

// StreamInfo provides the log-stream inputs to a snapshot
type StreamInfo interface {
	Stats() logwatch.Stats
}

// PatternInfo lists pending unknown-pattern keys
type PatternInfo interface {
	UnknownPatterns() []string
}

// Deps holds dependencies for creating an Aggregator
type Deps struct {
	Process  ProcessInfo
	Stream   StreamInfo
	Patterns PatternInfo
	Store    storage.Store
	Feed     Feed
	Events   *events.Emitter
	Interval time.Duration
}

// Aggregator periodically snapshots worker health, persists the
// snapshot to the heartbeat store, and promotes notable snapshots to
// the feed. One tick also runs immediately on Start so a fresh daemon
// records a baseline without waiting a full interval.
type Aggregator struct {
	mu sync.Mutex

	proc     ProcessInfo
	stream   StreamInfo
	patterns PatternInfo
	store    storage.Store
	feed     Feed
	events   *events.Emitter
	interval time.Duration

	prev         *types.TelemetrySnapshot
	pendingCrash *types.CrashContext

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	now     func() time.Time
	readMem func() uint64
}

// NewAggregator creates an aggregator from its dependencies
func NewAggregator(deps *Deps) (*Aggregator, error) {
	if deps.Process == nil {
		return nil, fmt.Errorf("process info is required")
	}
	if deps.Stream == nil {
		return nil, fmt.Errorf("stream info is required")
	}
	if deps.Patterns == nil {
		return nil, fmt.Errorf("pattern info is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Events == nil {
		return nil, fmt.Errorf("event emitter is required")
	}

	feed := deps.Feed
	if feed == nil {
		feed = LogFeed{}
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Aggregator{
		proc:     deps.Process,
		stream:   deps.Stream,
		patterns: deps.Patterns,
		store:    deps.Store,
		feed:     feed,
		events:   deps.Events,
		interval: interval,
		now:      time.Now,
		readMem:  heapAlloc,
	}, nil
}

// Start begins the telemetry loop
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("telemetry aggregator already running")
	}

	a.ctx, a.cancel = context.WithCancel(ctx)
	a.running = true

	a.wg.Add(1)
	go a.loop()

	fmt.Printf("[telemetry] Started (interval=%v)\n", a.interval)
	return nil
}

// Stop gracefully stops the telemetry loop
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.cancel()
	a.running = false
	a.mu.Unlock()

	a.wg.Wait()
	fmt.Println("[telemetry] Stopped")
}

func (a *Aggregator) loop() {
	defer a.wg.Done()

	// Baseline snapshot right away
	a.runTick()

	timer := time.NewTimer(a.interval)
	defer timer.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-timer.C:
			a.runTick()
			timer.Reset(a.interval)
		}
	}
}

func (a *Aggregator) runTick() {
	tickCtx, cancel := context.WithTimeout(a.ctx, tickTimeout)
	defer cancel()
	a.Tick(tickCtx)
}

// Tick performs one snapshot/append/promote cycle. The heartbeat append
// is unconditional; promotion is best-effort and a failed publish never
// blocks the snapshot from becoming the next comparison baseline.
func (a *Aggregator) Tick(ctx context.Context) *types.TelemetrySnapshot {
	snap := a.collect()

	if err := a.store.AppendHeartbeat(ctx, snap); err != nil {
		fmt.Printf("[telemetry] Failed to append heartbeat: %v\n", err)
	}

	a.mu.Lock()
	prev := a.prev
	a.mu.Unlock()

	d := Decide(snap, prev)
	if d.Promote {
		report := BuildReport(snap, d)
		if err := a.feed.Publish(ctx, report); err != nil {
			fmt.Printf("[telemetry] Failed to publish report: %v\n", err)
		} else {
			fmt.Printf("[telemetry] Promoted snapshot (%s): %s\n", d.Severity, d.Reason)
		}
	}

	a.events.Emit(events.NewTelemetryEvent(snap, d.Promote, d.Severity, d.Reason))

	a.mu.Lock()
	a.prev = snap
	a.mu.Unlock()
	return snap
}

// SetCrashContext queues a crash context for the next snapshot. It is
// consumed by exactly one snapshot, then cleared.
func (a *Aggregator) SetCrashContext(cc *types.CrashContext) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pendingCrash = cc.Clone()
}

// Latest returns a copy of the most recent snapshot, nil before the
// first tick
func (a *Aggregator) Latest() *types.TelemetrySnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.prev.Clone()
}

// heapAlloc reports the supervisor's own heap in use
func heapAlloc() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc
}

func (a *Aggregator) collect() *types.TelemetrySnapshot {
	now := a.now()
	stats := a.stream.Stats()
	state := a.proc.State()
	alloc := a.readMem()

	a.mu.Lock()
	crash := a.pendingCrash
	a.pendingCrash = nil
	a.mu.Unlock()

	return &types.TelemetrySnapshot{
		Timestamp:             now,
		UptimeSeconds:         state.Uptime(now).Seconds(),
		MemoryUsage:           alloc,
		MemoryUsageMb:         float64(alloc) / (1024 * 1024),
		RequestCount:          stats.RequestCount,
		ErrorCount:            stats.ErrorCount,
		ErrorRate:             stats.ErrorRate(),
		P50LatencyMs:          stats.P50LatencyMs,
		P95LatencyMs:          stats.P95LatencyMs,
		IntegrationErrorRates: stats.IntegrationErrorRates(),
		UnknownErrorPatterns:  a.patterns.UnknownPatterns(),
		LastCrashContext:      crash,
	}
}
