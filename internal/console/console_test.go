package console

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitbosshq/pitboss/internal/config"
	"github.com/pitbosshq/pitboss/internal/storage"
	"github.com/pitbosshq/pitboss/internal/telemetry"
	"github.com/pitbosshq/pitboss/internal/types"
)

func newTestConsole(t *testing.T) (*Console, storage.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = storage.BackendMemory
	cfg.Storage.DataDir = t.TempDir()

	store := storage.NewMemoryStore(8)
	c, err := NewWithStore(cfg, store)
	require.NoError(t, err)
	c.ctx = context.Background()
	require.NoError(t, c.registry.Load(c.ctx))
	return c, store
}

func seedProposal(t *testing.T, c *Console, store storage.Store, id string) {
	t.Helper()
	now := time.Now()
	err := store.ProposePattern(context.Background(), &types.ErrorPattern{
		ID:              id,
		Pattern:         "connect ETIMEDOUT 10.0.0.5:443",
		Severity:        types.SeverityP2,
		Action:          types.ActionLog,
		OccurrenceCount: types.ProposalThreshold,
		FirstSeen:       now.Add(-time.Hour),
		LastSeen:        now,
		Contexts:        []string{"[12:00:01] [ERROR] connect ETIMEDOUT 10.0.0.5:443"},
	})
	require.NoError(t, err)
	require.NoError(t, c.registry.Load(context.Background()))
}

func TestApproveCommand(t *testing.T) {
	c, store := newTestConsole(t)
	seedProposal(t, c, store, "learned-timeout")

	require.NoError(t, c.cmdApprove([]string{"learned-timeout", "p1", "dispatch_after_threshold"}))

	p, err := store.GetPattern(context.Background(), "learned-timeout")
	require.NoError(t, err)
	assert.True(t, p.Approved)
	assert.Equal(t, types.SeverityP1, p.Severity)
	assert.Equal(t, types.ActionDispatchAfterThreshold, p.Action)

	proposed, err := store.ListProposed(context.Background())
	require.NoError(t, err)
	assert.Empty(t, proposed)
}

func TestApproveCommandDefaults(t *testing.T) {
	c, store := newTestConsole(t)
	seedProposal(t, c, store, "learned-timeout")

	require.NoError(t, c.cmdApprove([]string{"learned-timeout"}))

	p, err := store.GetPattern(context.Background(), "learned-timeout")
	require.NoError(t, err)
	assert.Equal(t, types.SeverityP1, p.Severity)
	assert.Equal(t, types.ActionDispatchAfterThreshold, p.Action)
}

func TestApproveCommandRejectsBadInput(t *testing.T) {
	c, store := newTestConsole(t)
	seedProposal(t, c, store, "learned-timeout")

	require.Error(t, c.cmdApprove(nil))
	require.Error(t, c.cmdApprove([]string{"learned-timeout", "P9"}))
	require.Error(t, c.cmdApprove([]string{"learned-timeout", "P1", "page-someone"}))
	require.Error(t, c.cmdApprove([]string{"no-such-id"}))
}

func TestRejectCommand(t *testing.T) {
	c, store := newTestConsole(t)
	seedProposal(t, c, store, "learned-timeout")

	require.NoError(t, c.cmdReject([]string{"learned-timeout"}))

	proposed, err := store.ListProposed(context.Background())
	require.NoError(t, err)
	assert.Empty(t, proposed)

	require.Error(t, c.cmdReject([]string{"learned-timeout"}))
}

func TestPatternsAndReviewCommands(t *testing.T) {
	c, store := newTestConsole(t)
	seedProposal(t, c, store, "learned-timeout")

	require.NoError(t, c.cmdPatterns(nil))
	require.NoError(t, c.cmdPatterns([]string{"pending"}))
	require.NoError(t, c.cmdPatterns([]string{"active"}))
	require.Error(t, c.cmdPatterns([]string{"bogus"}))

	require.NoError(t, c.cmdReview([]string{"learned-timeout"}))
	require.NoError(t, c.cmdReview([]string{"bootstrap-connection-refused"}))
	require.Error(t, c.cmdReview(nil))
	require.Error(t, c.cmdReview([]string{"no-such-id"}))
}

func TestStatusCommand(t *testing.T) {
	c, store := newTestConsole(t)

	// Works with no heartbeats recorded
	require.NoError(t, c.cmdStatus(nil))

	err := store.AppendHeartbeat(context.Background(), &types.TelemetrySnapshot{
		Timestamp:     time.Now(),
		UptimeSeconds: 4200,
		MemoryUsageMb: 141.5,
		RequestCount:  1000,
		ErrorCount:    12,
		ErrorRate:     1.2,
		P50LatencyMs:  80,
		P95LatencyMs:  420,
	})
	require.NoError(t, err)
	require.NoError(t, c.cmdStatus(nil))
}

func TestFeedCommand(t *testing.T) {
	c, _ := newTestConsole(t)

	// Empty feed is not an error
	require.NoError(t, c.cmdFeed(nil))

	feed, err := telemetry.NewFileFeed(c.cfg.FeedPath())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, feed.Publish(ctx, &telemetry.Report{
		Timestamp: time.Now().Add(-time.Minute),
		Severity:  telemetry.SeverityWarning,
		Title:     "Error rate rose",
	}))
	require.NoError(t, feed.Publish(ctx, &telemetry.Report{
		Timestamp: time.Now(),
		Severity:  telemetry.SeverityCritical,
		Title:     "Process restart",
	}))

	require.NoError(t, c.cmdFeed(nil))
	require.NoError(t, c.cmdFeed([]string{"1"}))
	require.Error(t, c.cmdFeed([]string{"zero"}))
	require.Error(t, c.cmdFeed([]string{"0"}))
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in      string
		want    types.Severity
		wantErr bool
	}{
		{"P0", types.SeverityP0, false},
		{"p1", types.SeverityP1, false},
		{"P2", types.SeverityP2, false},
		{"P3", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := parseSeverity(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
		} else {
			require.NoError(t, err, "input %q", tt.in)
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    types.PatternAction
		wantErr bool
	}{
		{"dispatch", types.ActionDispatch, false},
		{"DISPATCH", types.ActionDispatch, false},
		{"dispatch_after_threshold", types.ActionDispatchAfterThreshold, false},
		{"restart_and_dispatch", types.ActionRestartAndDispatch, false},
		{"log", types.ActionLog, false},
		{"page-someone", "", true},
	}
	for _, tt := range tests {
		got, err := parseAction(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
		} else {
			require.NoError(t, err, "input %q", tt.in)
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestProcessInputRoutesCommands(t *testing.T) {
	c, store := newTestConsole(t)
	seedProposal(t, c, store, "learned-timeout")

	// Unknown commands are a note, not an error
	require.NoError(t, c.processInput("frobnicate"))
	require.NoError(t, c.processInput("patterns pending"))
	require.NoError(t, c.processInput("approve learned-timeout p0 dispatch"))

	p, err := store.GetPattern(context.Background(), "learned-timeout")
	require.NoError(t, err)
	assert.Equal(t, types.SeverityP0, p.Severity)
}
