package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitbosshq/pitboss/internal/config"
	"github.com/pitbosshq/pitboss/internal/dispatch"
	"github.com/pitbosshq/pitboss/internal/events"
	"github.com/pitbosshq/pitboss/internal/process"
	"github.com/pitbosshq/pitboss/internal/storage"
	"github.com/pitbosshq/pitboss/internal/telemetry"
	"github.com/pitbosshq/pitboss/internal/types"
)

func newTestSupervisor(t *testing.T, mutate ...func(*config.Config)) *Supervisor {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = storage.BackendMemory
	cfg.Storage.DataDir = t.TempDir()
	cfg.Worker.AutoRestart = false
	for _, m := range mutate {
		m(cfg)
	}
	s, err := NewWithStore(cfg, storage.NewMemoryStore(8))
	require.NoError(t, err)
	return s
}

// captureExecutor stands in for the escalation tool and records every
// payload it receives
type captureExecutor struct {
	mu       sync.Mutex
	payloads []*types.PitCrewDispatch
}

func (c *captureExecutor) fn() dispatch.Executor {
	return func(ctx context.Context, toolName string, args any) (*dispatch.ExecutorResult, error) {
		d, ok := args.(*types.PitCrewDispatch)
		if !ok {
			return nil, fmt.Errorf("unexpected args type %T", args)
		}
		c.mu.Lock()
		c.payloads = append(c.payloads, d)
		c.mu.Unlock()

		inner, err := json.Marshal(map[string]any{
			"success":       true,
			"discussion_id": "d-test",
			"notion_url":    "https://notion.so/d-test",
		})
		if err != nil {
			return nil, err
		}
		env, err := json.Marshal(map[string]any{
			"content": []map[string]any{{"type": "text", "text": string(inner)}},
		})
		if err != nil {
			return nil, err
		}
		return &dispatch.ExecutorResult{Success: true, Result: env}, nil
	}
}

func (c *captureExecutor) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func (c *captureExecutor) last() *types.PitCrewDispatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.payloads) == 0 {
		return nil
	}
	return c.payloads[len(c.payloads)-1]
}

func stdoutLine(text string) process.Line {
	return process.Line{Text: text, Stream: process.StreamStdout, Timestamp: time.Now()}
}

func TestThresholdEscalation(t *testing.T) {
	s := newTestSupervisor(t)
	exec := &captureExecutor{}
	s.SetDispatchExecutor(exec.fn())

	ctx := context.Background()
	line := stdoutLine("Error: connect ECONNREFUSED 127.0.0.1:3000")

	// Two hits stay below the consecutive-error threshold of three
	s.handleLine(ctx, line)
	s.handleLine(ctx, line)
	s.wg.Wait()
	require.Equal(t, 0, exec.count())

	// The third hit crosses it
	s.handleLine(ctx, line)
	s.wg.Wait()
	require.Equal(t, 1, exec.count())

	got := exec.last()
	assert.Contains(t, got.Title, "[P1]")
	assert.Equal(t, "bootstrap-connection-refused", got.Metadata["pattern_id"])
	assert.Equal(t, "3", got.Metadata["consecutive_errors"])
}

func TestDedupSuppressesRepeatDispatch(t *testing.T) {
	s := newTestSupervisor(t)
	exec := &captureExecutor{}
	s.SetDispatchExecutor(exec.fn())

	ctx := context.Background()
	line := stdoutLine("[ERROR] 401 Unauthorized response from Notion API")

	// P0 patterns escalate on the first hit
	s.handleLine(ctx, line)
	s.wg.Wait()
	require.Equal(t, 1, exec.count())
	assert.Contains(t, exec.last().Title, "[P0]")

	// A repeat inside the dedup window is dropped before any delivery
	// goroutine is spawned
	s.handleLine(ctx, line)
	s.wg.Wait()
	require.Equal(t, 1, exec.count())
}

func TestSuccessLineResetsConsecutiveErrors(t *testing.T) {
	s := newTestSupervisor(t)
	ctx := context.Background()

	s.handleLine(ctx, stdoutLine("Error: something broke"))
	state := s.manager.State()
	require.Equal(t, 1, state.ConsecutiveErrors)

	s.handleLine(ctx, stdoutLine("[Notion] page sync ok"))
	state = s.manager.State()
	assert.Zero(t, state.ConsecutiveErrors)
	assert.NotNil(t, state.LastSuccessTime)
}

func TestCrashContextFlowsIntoTelemetry(t *testing.T) {
	s := newTestSupervisor(t, func(cfg *config.Config) {
		cfg.Worker.SourceDir = filepath.Join(cfg.Storage.DataDir, "no-such-worker")
	})
	ctx := context.Background()

	// Give the stream a tail for the crash context to capture
	s.handleLine(ctx, stdoutLine("[Notion] starting sync"))
	s.handleLine(ctx, stdoutLine("Error: connect ECONNREFUSED 127.0.0.1:3000"))

	err := s.manager.Start(ctx)
	require.Error(t, err)
	require.Equal(t, types.StatusErrored, s.manager.State().Status)

	// Route the exit through the event handler the way the process
	// monitor would
	s.handleEvent(events.NewStoppedEvent(1))

	snap := s.aggregator.Tick(ctx)
	require.NotNil(t, snap)
	require.NotNil(t, snap.LastCrashContext)
	assert.Contains(t, snap.LastCrashContext.LastError, "does not exist")
	require.Len(t, snap.LastCrashContext.LastFeedEntries, 2)
	assert.Contains(t, snap.LastCrashContext.LastFeedEntries[1], "ECONNREFUSED")

	// The crash is reported exactly once
	snap2 := s.aggregator.Tick(ctx)
	require.NotNil(t, snap2)
	assert.Nil(t, snap2.LastCrashContext)

	// The promoted report reached the feed at critical severity
	reports, err := telemetry.ReadReports(s.cfg.FeedPath())
	require.NoError(t, err)
	require.NotEmpty(t, reports)
	assert.Equal(t, telemetry.SeverityCritical, reports[0].Severity)
}

func TestStartFailsWithBadWorkerSource(t *testing.T) {
	s := newTestSupervisor(t, func(cfg *config.Config) {
		cfg.Worker.SourceDir = filepath.Join(cfg.Storage.DataDir, "no-such-worker")
	})
	ctx := context.Background()

	err := s.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	// The failed start released the data-dir lock, so the retry fails on
	// the worker source again rather than on a lock conflict
	err = s.Start(ctx)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "locked")

	// Stop before any successful start is a no-op
	require.NoError(t, s.Stop(ctx))
}

func TestGetStatusSnapshot(t *testing.T) {
	s := newTestSupervisor(t)

	st := s.GetStatus()
	assert.NotEmpty(t, st.InstanceID)
	assert.False(t, st.Running)
	require.NotNil(t, st.Process)
	assert.Equal(t, types.StatusStopped, st.Process.Status)
	assert.Equal(t, 8, st.Patterns.Bootstrap)
	assert.Empty(t, st.RecentMatches)

	p, err := s.registry.Get("bootstrap-connection-refused")
	require.NoError(t, err)
	for i := 0; i < matchRingLimit+10; i++ {
		s.rememberMatch(&types.PatternMatch{
			Pattern:     p,
			MatchedText: "Error: connect ECONNREFUSED 127.0.0.1:3000",
			Timestamp:   time.Now(),
		})
	}
	st = s.GetStatus()
	assert.Len(t, st.RecentMatches, matchRingLimit)
}

func TestIsIntegrationSuccess(t *testing.T) {
	s := newTestSupervisor(t)

	tests := []struct {
		message string
		want    bool
	}{
		{"[Notion] page updated in 120 ms", true},
		{"[Claude] completion finished", true},
		{"[Anthropic] tokens counted", true},
		{"[Notion] sync failed with 500", false},
		{"[Notion] Error: invalid token", false},
		{"plain informational line", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.isIntegrationSuccess(tt.message), "message %q", tt.message)
	}
}

func TestStatsEmitLogEvent(t *testing.T) {
	s := newTestSupervisor(t)
	ctx := context.Background()

	s.handleLine(ctx, stdoutLine("[Notion] page updated in 120 ms"))
	s.handleLine(ctx, stdoutLine("Error: something broke"))

	ch, cancel := s.Events().Subscribe(4)
	defer cancel()

	s.logStats()

	select {
	case ev := <-ch:
		require.Equal(t, events.EventLog, ev.Type)
		require.NotNil(t, ev.Log)
		assert.Contains(t, ev.Log.Message, "stats:")
		assert.Contains(t, ev.Log.Message, "errors=1")
	default:
		t.Fatal("Expected a stats log event")
	}
}
