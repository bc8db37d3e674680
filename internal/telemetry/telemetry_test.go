package telemetry

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitbosshq/pitboss/internal/events"
	"github.com/pitbosshq/pitboss/internal/logwatch"
	"github.com/pitbosshq/pitboss/internal/storage"
	"github.com/pitbosshq/pitboss/internal/types"
)

type stubProc struct {
	mu    sync.Mutex
	state *types.ProcessState
}

func (s *stubProc) State() *types.ProcessState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

type stubStream struct {
	mu    sync.Mutex
	stats logwatch.Stats
}

func (s *stubStream) Stats() logwatch.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *stubStream) set(stats logwatch.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = stats
}

type stubPatterns struct{ keys []string }

func (s *stubPatterns) UnknownPatterns() []string { return s.keys }

type memFeed struct {
	mu      sync.Mutex
	reports []*Report
}

func (f *memFeed) Publish(ctx context.Context, r *Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return nil
}

func (f *memFeed) all() []*Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Report(nil), f.reports...)
}

type fixture struct {
	agg    *Aggregator
	proc   *stubProc
	stream *stubStream
	store  storage.Store
	feed   *memFeed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	started := time.Now().Add(-time.Hour)
	f := &fixture{
		proc:   &stubProc{state: &types.ProcessState{Status: types.StatusRunning, PID: 1234, StartTime: &started}},
		stream: &stubStream{},
		store:  storage.NewMemoryStore(storage.DefaultHeartbeatMax),
		feed:   &memFeed{},
	}

	agg, err := NewAggregator(&Deps{
		Process:  f.proc,
		Stream:   f.stream,
		Patterns: &stubPatterns{},
		Store:    f.store,
		Feed:     f.feed,
		Events:   events.NewEmitter(),
		Interval: time.Hour,
	})
	require.NoError(t, err)
	agg.readMem = func() uint64 { return 64 << 20 }
	f.agg = agg
	return f
}

func snap(mods ...func(*types.TelemetrySnapshot)) *types.TelemetrySnapshot {
	s := &types.TelemetrySnapshot{Timestamp: time.Now()}
	for _, mod := range mods {
		mod(s)
	}
	return s
}

func TestDecideLadder(t *testing.T) {
	crash := &types.CrashContext{LastError: "worker exited with code 1", Timestamp: time.Now()}

	tests := []struct {
		name         string
		cur          *types.TelemetrySnapshot
		prev         *types.TelemetrySnapshot
		wantPromote  bool
		wantSeverity string
		wantReason   string
	}{
		{
			name:         "crash context is critical",
			cur:          snap(func(s *types.TelemetrySnapshot) { s.LastCrashContext = crash }),
			prev:         nil,
			wantPromote:  true,
			wantSeverity: SeverityCritical,
			wantReason:   "Process restart",
		},
		{
			name: "crash wins over unknown patterns",
			cur: snap(func(s *types.TelemetrySnapshot) {
				s.LastCrashContext = crash
				s.UnknownErrorPatterns = []string{"TypeError"}
			}),
			prev:         nil,
			wantPromote:  true,
			wantSeverity: SeverityCritical,
			wantReason:   "Process restart",
		},
		{
			name: "unknown patterns promote as warning",
			cur: snap(func(s *types.TelemetrySnapshot) {
				s.UnknownErrorPatterns = []string{"TypeError", "ValidationError"}
			}),
			prev:         nil,
			wantPromote:  true,
			wantSeverity: SeverityWarning,
			wantReason:   "2 unclassified",
		},
		{
			name:        "first snapshot is baseline even with nonzero metrics",
			cur:         snap(func(s *types.TelemetrySnapshot) { s.ErrorRate = 9.5; s.P95LatencyMs = 800 }),
			prev:        nil,
			wantPromote: false,
		},
		{
			name:         "error rate over five percent relative",
			cur:          snap(func(s *types.TelemetrySnapshot) { s.ErrorRate = 2.2 }),
			prev:         snap(func(s *types.TelemetrySnapshot) { s.ErrorRate = 2.0 }),
			wantPromote:  true,
			wantSeverity: SeverityWarning,
			wantReason:   "Error rate increased",
		},
		{
			name:        "error rate under five percent relative",
			cur:         snap(func(s *types.TelemetrySnapshot) { s.ErrorRate = 2.05 }),
			prev:        snap(func(s *types.TelemetrySnapshot) { s.ErrorRate = 2.0 }),
			wantPromote: false,
		},
		{
			name:        "error rate rise from zero baseline does not promote",
			cur:         snap(func(s *types.TelemetrySnapshot) { s.ErrorRate = 5.0 }),
			prev:        snap(func(s *types.TelemetrySnapshot) { s.ErrorRate = 0 }),
			wantPromote: false,
		},
		{
			name: "memory over ten percent relative",
			cur: snap(func(s *types.TelemetrySnapshot) {
				s.MemoryUsage = 115 << 20
				s.MemoryUsageMb = 115
			}),
			prev: snap(func(s *types.TelemetrySnapshot) {
				s.MemoryUsage = 100 << 20
				s.MemoryUsageMb = 100
			}),
			wantPromote:  true,
			wantSeverity: SeverityWarning,
			wantReason:   "Memory usage increased",
		},
		{
			name:        "memory under ten percent relative",
			cur:         snap(func(s *types.TelemetrySnapshot) { s.MemoryUsage = 105 << 20 }),
			prev:        snap(func(s *types.TelemetrySnapshot) { s.MemoryUsage = 100 << 20 }),
			wantPromote: false,
		},
		{
			name:         "p95 over fifty percent relative",
			cur:          snap(func(s *types.TelemetrySnapshot) { s.P95LatencyMs = 160 }),
			prev:         snap(func(s *types.TelemetrySnapshot) { s.P95LatencyMs = 100 }),
			wantPromote:  true,
			wantSeverity: SeverityWarning,
			wantReason:   "P95 latency increased",
		},
		{
			name:        "p95 under fifty percent relative",
			cur:         snap(func(s *types.TelemetrySnapshot) { s.P95LatencyMs = 140 }),
			prev:        snap(func(s *types.TelemetrySnapshot) { s.P95LatencyMs = 100 }),
			wantPromote: false,
		},
		{
			name: "integration error rate more than doubled",
			cur: snap(func(s *types.TelemetrySnapshot) {
				s.IntegrationErrorRates = map[string]float64{"notion": 25}
			}),
			prev: snap(func(s *types.TelemetrySnapshot) {
				s.IntegrationErrorRates = map[string]float64{"notion": 10}
			}),
			wantPromote:  true,
			wantSeverity: SeverityWarning,
			wantReason:   "notion error rate more than doubled",
		},
		{
			name: "integration error rate exactly doubled stays quiet",
			cur: snap(func(s *types.TelemetrySnapshot) {
				s.IntegrationErrorRates = map[string]float64{"notion": 20}
			}),
			prev: snap(func(s *types.TelemetrySnapshot) {
				s.IntegrationErrorRates = map[string]float64{"notion": 10}
			}),
			wantPromote: false,
		},
		{
			name: "error rate outranks memory",
			cur: snap(func(s *types.TelemetrySnapshot) {
				s.ErrorRate = 3.0
				s.MemoryUsage = 200 << 20
			}),
			prev: snap(func(s *types.TelemetrySnapshot) {
				s.ErrorRate = 2.0
				s.MemoryUsage = 100 << 20
			}),
			wantPromote:  true,
			wantSeverity: SeverityWarning,
			wantReason:   "Error rate increased",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.cur, tt.prev)
			assert.Equal(t, tt.wantPromote, d.Promote)
			if tt.wantPromote {
				assert.Equal(t, tt.wantSeverity, d.Severity)
				assert.Contains(t, d.Reason, tt.wantReason)
			}
		})
	}
}

func TestTickAppendsHeartbeatWithoutPromotion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got := f.agg.Tick(ctx)
	require.NotNil(t, got)
	assert.InDelta(t, time.Hour.Seconds(), got.UptimeSeconds, 5)
	assert.Equal(t, uint64(64<<20), got.MemoryUsage)

	entries, err := f.store.ListHeartbeats(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Empty(t, f.feed.all(), "baseline snapshot must not promote")
	assert.NotNil(t, f.agg.Latest())
}

func TestTickReportsCrashExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.agg.SetCrashContext(&types.CrashContext{
		LastError:       "worker exited with code 1",
		ActiveSkill:     "data-sync",
		LastFeedEntries: []string{"[10:00:00] [ERROR] boom"},
		Timestamp:       time.Now(),
	})

	first := f.agg.Tick(ctx)
	require.NotNil(t, first.LastCrashContext)

	reports := f.feed.all()
	require.Len(t, reports, 1)
	assert.Equal(t, SeverityCritical, reports[0].Severity)
	assert.Contains(t, reports[0].Title, "Process restart")
	assert.Contains(t, reports[0].Body, "Last error: worker exited with code 1")
	assert.Contains(t, reports[0].Body, "Active skill: data-sync")
	assert.Contains(t, reports[0].Body, "[10:00:00] [ERROR] boom")

	second := f.agg.Tick(ctx)
	assert.Nil(t, second.LastCrashContext, "crash context must clear after one snapshot")
	assert.Len(t, f.feed.all(), 1, "flat follow-up snapshot must not promote")
}

func TestTickPromotesOnErrorRateRise(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.stream.set(logwatch.Stats{RequestCount: 100, ErrorCount: 2})
	f.agg.Tick(ctx)
	require.Empty(t, f.feed.all())

	f.stream.set(logwatch.Stats{RequestCount: 500, ErrorCount: 11})
	second := f.agg.Tick(ctx)
	assert.InDelta(t, 2.2, second.ErrorRate, 0.001)

	reports := f.feed.all()
	require.Len(t, reports, 1)
	assert.Equal(t, SeverityWarning, reports[0].Severity)
	assert.Contains(t, reports[0].Title, "Error rate increased")

	entries, err := f.store.ListHeartbeats(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestTickEmitsTelemetryEvents(t *testing.T) {
	f := newFixture(t)
	emitter := events.NewEmitter()

	agg, err := NewAggregator(&Deps{
		Process:  f.proc,
		Stream:   f.stream,
		Patterns: &stubPatterns{keys: []string{"TypeError"}},
		Store:    f.store,
		Feed:     f.feed,
		Events:   emitter,
		Interval: time.Hour,
	})
	require.NoError(t, err)
	agg.readMem = func() uint64 { return 64 << 20 }

	ch, cancel := emitter.Subscribe(4)
	defer cancel()

	agg.Tick(context.Background())

	select {
	case ev := <-ch:
		require.Equal(t, events.EventTelemetry, ev.Type)
		require.NotNil(t, ev.Telemetry)
		assert.True(t, ev.Telemetry.Promoted)
		assert.Equal(t, SeverityWarning, ev.Telemetry.Severity)
	case <-time.After(time.Second):
		t.Fatal("no telemetry event emitted")
	}
}

func TestStartRunsImmediateTick(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.agg.Start(context.Background()))
	defer f.agg.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := f.store.ListHeartbeats(context.Background())
		require.NoError(t, err)
		if len(entries) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("immediate tick never appended a heartbeat")
}

func TestFileFeedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.jsonl")

	feed, err := NewFileFeed(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, feed.Publish(ctx, &Report{Severity: SeverityWarning, Title: "first"}))
	require.NoError(t, feed.Publish(ctx, &Report{Severity: SeverityCritical, Title: "second"}))

	reports, err := ReadReports(path)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "first", reports[0].Title)
	assert.Equal(t, "second", reports[1].Title)

	missing, err := ReadReports(filepath.Join(t.TempDir(), "absent.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestBuildReportBody(t *testing.T) {
	s := snap(func(s *types.TelemetrySnapshot) {
		s.UptimeSeconds = 3915
		s.MemoryUsageMb = 84.2
		s.RequestCount = 1204
		s.ErrorCount = 17
		s.ErrorRate = 1.4
		s.P95LatencyMs = 420
	})

	r := BuildReport(s, Decision{Promote: true, Severity: SeverityWarning, Reason: "Error rate increased"})
	assert.True(t, strings.HasSuffix(r.Title, "Error rate increased"))
	assert.Contains(t, r.Body, "Uptime: 1h5m15s")
	assert.Contains(t, r.Body, "Memory: 84.2 MB")
	assert.Contains(t, r.Body, "Requests: 1204")
	assert.Contains(t, r.Body, "Errors: 17 (1.4 per 100 requests)")
	assert.Contains(t, r.Body, "P95 latency: 420 ms")
	assert.NotContains(t, r.Body, "Process crashed")
}
