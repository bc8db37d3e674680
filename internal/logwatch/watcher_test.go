package logwatch

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pitbosshq/pitboss/internal/pattern"
	"github.com/pitbosshq/pitboss/internal/process"
	"github.com/pitbosshq/pitboss/internal/storage"
)

func newTestWatcher(t *testing.T) (*Watcher, *pattern.Registry) {
	t.Helper()
	reg := pattern.NewRegistry(storage.NewMemoryStore(storage.DefaultHeartbeatMax))
	w := NewWatcher(reg, map[string][]string{
		"notion": {"[Notion]"},
		"claude": {"[Claude]", "[Anthropic]"},
	})
	return w, reg
}

func stdoutLine(text string) process.Line {
	return process.Line{Text: text, Stream: process.StreamStdout, Timestamp: time.Now()}
}

func stderrLine(text string) process.Line {
	return process.Line{Text: text, Stream: process.StreamStderr, Timestamp: time.Now()}
}

func TestDetectLevel(t *testing.T) {
	tests := []struct {
		name    string
		message string
		stream  string
		want    Level
	}{
		{"explicit error tag", "[ERROR] boom", process.StreamStdout, LevelError},
		{"lowercase tag", "[warn] disk filling up", process.StreamStdout, LevelWarn},
		{"tag overrides stderr default", "[INFO] shutting down", process.StreamStderr, LevelInfo},
		{"debug tag on stderr", "[DEBUG] cache miss", process.StreamStderr, LevelDebug},
		{"error substring", "request error: connection reset", process.StreamStdout, LevelError},
		{"warn substring", "warning: slow response", process.StreamStdout, LevelWarn},
		{"warning tag falls back to substring", "[WARNING] retrying", process.StreamStdout, LevelWarn},
		{"bare stderr defaults to error", "    at Object.<anonymous>", process.StreamStderr, LevelError},
		{"bare stdout defaults to info", "worker ready", process.StreamStdout, LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectLevel(tt.message, tt.stream); got != tt.want {
				t.Errorf("detectLevel(%q, %s) = %s, want %s", tt.message, tt.stream, got, tt.want)
			}
		})
	}
}

func TestPercentileNearestRank(t *testing.T) {
	ten := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	twenty := make([]float64, 20)
	for i := range twenty {
		twenty[i] = float64(i + 1)
	}

	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"p50 of ten", ten, 50, 50},
		{"p95 of ten", ten, 95, 100},
		{"p50 of twenty", twenty, 50, 10},
		{"p95 of twenty", twenty, 95, 19},
		{"single sample p50", []float64{42}, 50, 42},
		{"single sample p95", []float64{42}, 95, 42},
		{"p0 clamps to first", ten, 0, 10},
		{"p100 is last", ten, 100, 100},
		{"empty is zero", nil, 95, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := percentile(tt.sorted, tt.p); got != tt.want {
				t.Errorf("percentile(%v, %v) = %v, want %v", tt.sorted, tt.p, got, tt.want)
			}
		})
	}
}

func TestExtractLatency(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    float64
		ok      bool
	}{
		{"spaced", "request completed in 250 ms", 250, true},
		{"unspaced", "query took 41ms", 41, true},
		{"zero rejected", "finished in 0 ms", 0, false},
		{"upper bound rejected", "stalled for 300000 ms", 0, false},
		{"just under bound", "slow call: 299999ms", 299999, true},
		{"no sample", "no timing info here", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractLatency(tt.message)
			if ok != tt.ok || got != tt.want {
				t.Errorf("extractLatency(%q) = (%v, %v), want (%v, %v)", tt.message, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestExtractSkill(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
		ok      bool
	}{
		{"bracket tag", "[Skill] data-sync starting", "data-sync", true},
		{"bracket tag with colon", "[Skill]: compile-fix", "compile-fix", true},
		{"equals token", "loaded skill=triage", "triage", true},
		{"colon token", "active skill: page-writer", "page-writer", true},
		{"no marker", "using skills today", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractSkill(tt.message)
			if ok != tt.ok || got != tt.want {
				t.Errorf("extractSkill(%q) = (%q, %v), want (%q, %v)", tt.message, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestProcessLineRollingStats(t *testing.T) {
	w, _ := newTestWatcher(t)
	ctx := context.Background()

	w.ProcessLine(ctx, stdoutLine("[INFO] Message received from gateway"))
	if res := w.ProcessLine(ctx, stdoutLine("[Notion] page updated in 120 ms")); res.LatencyMs != 120 {
		t.Errorf("LatencyMs = %v, want 120", res.LatencyMs)
	}
	if res := w.ProcessLine(ctx, stdoutLine("[Notion] sync failed after 3 attempts")); res.LatencyMs != 0 {
		t.Errorf("LatencyMs = %v, want 0 for line without a sample", res.LatencyMs)
	}
	w.ProcessLine(ctx, stdoutLine("[Claude] completion in 80ms"))
	w.ProcessLine(ctx, stdoutLine("[Anthropic] token refresh"))
	w.ProcessLine(ctx, stdoutLine("[WARN] queue depth rising"))
	w.ProcessLine(ctx, stderrLine("something exploded"))

	s := w.Stats()
	if s.TotalLines != 7 {
		t.Errorf("TotalLines = %d, want 7", s.TotalLines)
	}
	if s.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", s.ErrorCount)
	}
	if s.WarnCount != 1 {
		t.Errorf("WarnCount = %d, want 1", s.WarnCount)
	}
	if s.RequestCount != 1 {
		t.Errorf("RequestCount = %d, want 1", s.RequestCount)
	}
	if s.IntegrationCalls["notion"] != 2 {
		t.Errorf("notion calls = %d, want 2", s.IntegrationCalls["notion"])
	}
	if s.IntegrationCalls["claude"] != 2 {
		t.Errorf("claude calls = %d, want 2", s.IntegrationCalls["claude"])
	}
	if s.IntegrationErrors["notion"] != 1 {
		t.Errorf("notion errors = %d, want 1", s.IntegrationErrors["notion"])
	}
	if s.IntegrationErrors["claude"] != 0 {
		t.Errorf("claude errors = %d, want 0", s.IntegrationErrors["claude"])
	}
	if s.LatencySamples != 2 {
		t.Errorf("LatencySamples = %d, want 2", s.LatencySamples)
	}
	if s.P50LatencyMs != 80 {
		t.Errorf("P50 = %v, want 80", s.P50LatencyMs)
	}
	if s.P95LatencyMs != 120 {
		t.Errorf("P95 = %v, want 120", s.P95LatencyMs)
	}
}

func TestProcessLineWindowIsBounded(t *testing.T) {
	w, _ := newTestWatcher(t)
	ctx := context.Background()

	for i := 1; i <= 15; i++ {
		w.ProcessLine(ctx, stdoutLine(fmt.Sprintf("tick %d", i)))
	}

	contextStr := w.Context()
	if strings.Contains(contextStr, "tick 5") {
		t.Error("context window should have dropped tick 5")
	}
	for i := 6; i <= 15; i++ {
		if !strings.Contains(contextStr, fmt.Sprintf("tick %d", i)) {
			t.Errorf("context window missing tick %d", i)
		}
	}

	recent := w.RecentEntries(5)
	if len(recent) != 5 {
		t.Fatalf("RecentEntries(5) returned %d entries", len(recent))
	}
	if !strings.Contains(recent[0], "tick 11") || !strings.Contains(recent[4], "tick 15") {
		t.Errorf("RecentEntries order wrong: %v", recent)
	}
}

func TestProcessLineMatchesKnownSignature(t *testing.T) {
	w, _ := newTestWatcher(t)

	res := w.ProcessLine(context.Background(), stdoutLine("Error: connect ECONNREFUSED 127.0.0.1:3000"))
	if len(res.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(res.Matches))
	}
	if res.Matches[0].Pattern.ID != "bootstrap-connection-refused" {
		t.Errorf("matched %s, want bootstrap-connection-refused", res.Matches[0].Pattern.ID)
	}
	if res.NewProposal != nil {
		t.Error("matched line must not open a proposal")
	}
	if res.Matches[0].Context == "" {
		t.Error("match should carry the context window")
	}
}

func TestProcessLineRecordsUnknownErrors(t *testing.T) {
	w, reg := newTestWatcher(t)
	ctx := context.Background()

	res := w.ProcessLine(ctx, stdoutLine("Error: ValidationError at field email"))
	if len(res.Matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(res.Matches))
	}
	if res.NewProposal == nil {
		t.Fatal("first unknown error should open a proposal")
	}
	if res.NewProposal.Pattern != "ValidationError" {
		t.Errorf("proposal key = %q, want ValidationError", res.NewProposal.Pattern)
	}

	for i := 0; i < 2; i++ {
		res = w.ProcessLine(ctx, stdoutLine("Error: ValidationError at field email"))
		if res.NewProposal != nil {
			t.Fatal("repeat occurrences must update the existing proposal")
		}
	}

	ready := reg.ReadyForReview()
	if len(ready) != 1 {
		t.Fatalf("expected 1 proposal ready for review, got %d", len(ready))
	}
	if ready[0].OccurrenceCount != 3 {
		t.Errorf("proposal count = %d, want 3", ready[0].OccurrenceCount)
	}
}

func TestProcessLineSkipsCleanLines(t *testing.T) {
	w, reg := newTestWatcher(t)

	res := w.ProcessLine(context.Background(), stdoutLine("all systems nominal"))
	if len(res.Matches) != 0 || res.NewProposal != nil {
		t.Error("info-level stdout lines must not touch the registry")
	}
	if got := len(reg.Proposals()); got != 0 {
		t.Errorf("registry gained %d proposals from a clean line", got)
	}
}

func TestStderrTriggersMatchButNotLearning(t *testing.T) {
	w, reg := newTestWatcher(t)
	ctx := context.Background()

	// Explicit info tag keeps the level down, but the stderr source
	// still runs the pattern check
	res := w.ProcessLine(ctx, stderrLine("[INFO] upstream said ECONNREFUSED, retrying"))
	if len(res.Matches) != 1 {
		t.Fatalf("stderr line should still match, got %d matches", len(res.Matches))
	}

	res = w.ProcessLine(ctx, stderrLine("[INFO] one-off diagnostic condition"))
	if res.NewProposal != nil {
		t.Error("non-error stderr lines must not open proposals")
	}
	if got := len(reg.Proposals()); got != 0 {
		t.Errorf("registry gained %d proposals from non-error lines", got)
	}
}

func TestProcessLineTracksActiveSkill(t *testing.T) {
	w, _ := newTestWatcher(t)
	ctx := context.Background()

	if w.ActiveSkill() != "" {
		t.Error("skill should start empty")
	}
	w.ProcessLine(ctx, stdoutLine("[Skill] data-sync starting"))
	if got := w.ActiveSkill(); got != "data-sync" {
		t.Errorf("ActiveSkill = %q, want data-sync", got)
	}
	w.ProcessLine(ctx, stdoutLine("switching skill=page-writer"))
	if got := w.ActiveSkill(); got != "page-writer" {
		t.Errorf("ActiveSkill = %q, want page-writer", got)
	}
}

func TestResetStatsPreservesWindowAndSkill(t *testing.T) {
	w, _ := newTestWatcher(t)
	ctx := context.Background()

	w.ProcessLine(ctx, stdoutLine("[Skill] data-sync starting"))
	w.ProcessLine(ctx, stdoutLine("[Notion] saved in 90 ms"))
	w.ProcessLine(ctx, stderrLine("Error: transient blip"))

	w.ResetStats()

	s := w.Stats()
	if s.TotalLines != 0 || s.ErrorCount != 0 || s.LatencySamples != 0 || len(s.IntegrationCalls) != 0 {
		t.Errorf("stats not zeroed after reset: %+v", s)
	}
	if w.Context() == "" {
		t.Error("reset must keep the context window")
	}
	if w.ActiveSkill() != "data-sync" {
		t.Error("reset must keep the active skill")
	}
}

func TestLatencyRingDropsOldest(t *testing.T) {
	r := newLatencyRing(1000)
	for i := 1; i <= 1500; i++ {
		r.add(float64(i))
	}
	if r.count() != 1000 {
		t.Fatalf("ring count = %d, want 1000", r.count())
	}
	sorted := r.sorted()
	if sorted[0] != 501 {
		t.Errorf("oldest surviving sample = %v, want 501", sorted[0])
	}
	if sorted[len(sorted)-1] != 1500 {
		t.Errorf("newest sample = %v, want 1500", sorted[len(sorted)-1])
	}
}

func TestStatsRates(t *testing.T) {
	s := Stats{
		ErrorCount:        2,
		RequestCount:      100,
		IntegrationCalls:  map[string]int64{"notion": 4, "claude": 10},
		IntegrationErrors: map[string]int64{"notion": 1},
	}
	if got := s.ErrorRate(); got != 2.0 {
		t.Errorf("ErrorRate = %v, want 2.0", got)
	}
	rates := s.IntegrationErrorRates()
	if rates["notion"] != 25.0 {
		t.Errorf("notion rate = %v, want 25.0", rates["notion"])
	}
	if rates["claude"] != 0 {
		t.Errorf("claude rate = %v, want 0", rates["claude"])
	}

	var empty Stats
	if empty.ErrorRate() != 0 {
		t.Error("ErrorRate with no requests must be 0")
	}
	if empty.IntegrationErrorRates() != nil {
		t.Error("IntegrationErrorRates with no calls must be nil")
	}
}
