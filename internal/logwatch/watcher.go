package logwatch

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pitbosshq/pitboss/internal/pattern"
	"github.com/pitbosshq/pitboss/internal/process"
	"github.com/pitbosshq/pitboss/internal/types"
)

// contextWindowSize is how many recent entries form the context string
// handed to pattern matching
const contextWindowSize = 10

// maxLatencyMs is the exclusive upper bound for accepted latency
// samples; values at or above it are treated as parser noise
const maxLatencyMs = 300000

var (
	latencyRe    = regexp.MustCompile(`(\d+)\s*ms`)
	skillTagRe   = regexp.MustCompile(`(?i)\[skill\]\s*:?\s*([\w./-]+)`)
	skillTokenRe = regexp.MustCompile(`(?i)\bskill\s*[:=]\s*([\w./-]+)`)
)

// requestMarkers are the message fragments that count as one unit of
// worker request handling
var requestMarkers = []string{
	"message received",
	"message processed",
	"processing message",
	"request received",
}

// Watcher turns raw worker output lines into structured entries, keeps
// rolling stream stats, and drives signature matching for error lines.
//
// Lines must be fed from a single consumer; the mutex exists for the
// read-side accessors (Stats, Context, RecentEntries, ActiveSkill)
// called from other goroutines.
type Watcher struct {
	mu       sync.Mutex
	registry *pattern.Registry

	// integrations maps an integration name to the literal tag
	// substrings that identify its log lines
	integrations map[string][]string

	totalLines        int64
	errorCount        int64
	warnCount         int64
	requestCount      int64
	integrationCalls  map[string]int64
	integrationErrors map[string]int64
	latencies         *latencyRing

	window      []Entry
	activeSkill string

	now func() time.Time
}

// Result is what processing one line produced: the parsed entry, any
// signature matches to feed into escalation handling, and the learning
// proposal the line opened, if any. LatencyMs is the extracted latency
// sample, 0 when the line carried none.
type Result struct {
	Entry       Entry
	Matches     []*types.PatternMatch
	NewProposal *types.ErrorPattern
	LatencyMs   float64
}

// NewWatcher creates a watcher that matches against reg and tags
// integration lines per the given name→substrings table
func NewWatcher(reg *pattern.Registry, integrations map[string][]string) *Watcher {
	return &Watcher{
		registry:          reg,
		integrations:      integrations,
		integrationCalls:  make(map[string]int64),
		integrationErrors: make(map[string]int64),
		latencies:         newLatencyRing(latencyRingSize),
		now:               time.Now,
	}
}

// ProcessLine parses one worker output line, folds it into the rolling
// stats and context window, and runs the pattern check for error/warn
// and stderr lines. Unmatched error lines are recorded as learning
// candidates.
func (w *Watcher) ProcessLine(ctx context.Context, line process.Line) Result {
	w.mu.Lock()
	entry := parseLine(line, w.now())

	w.totalLines++
	switch entry.Level {
	case LevelError:
		w.errorCount++
	case LevelWarn:
		w.warnCount++
	}

	isError := entry.Level == LevelError
	lower := strings.ToLower(entry.Message)
	for name, tags := range w.integrations {
		for _, tag := range tags {
			if !strings.Contains(entry.Message, tag) {
				continue
			}
			w.integrationCalls[name]++
			if isError || strings.Contains(lower, "failed") {
				w.integrationErrors[name]++
			}
			break
		}
	}

	for _, marker := range requestMarkers {
		if strings.Contains(lower, marker) {
			w.requestCount++
			break
		}
	}

	var latency float64
	if ms, ok := extractLatency(entry.Message); ok {
		w.latencies.add(ms)
		latency = ms
	}

	if skill, ok := extractSkill(entry.Message); ok {
		w.activeSkill = skill
	}

	w.window = append(w.window, entry)
	if len(w.window) > contextWindowSize {
		w.window = w.window[1:]
	}
	logContext := w.contextLocked()
	w.mu.Unlock()

	res := Result{Entry: entry, LatencyMs: latency}
	if entry.Level != LevelError && entry.Level != LevelWarn && entry.Source != process.StreamStderr {
		return res
	}

	res.Matches = w.registry.MatchText(ctx, entry.Message, logContext)
	if len(res.Matches) == 0 && entry.Level == LevelError {
		if proposal, created := w.registry.RecordUnknown(ctx, entry.Message, logContext); created {
			res.NewProposal = proposal
		}
	}
	return res
}

// Stats returns a copy of the rolling counters with percentiles
// computed from the current latency ring
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	sorted := w.latencies.sorted()
	s := Stats{
		TotalLines:     w.totalLines,
		ErrorCount:     w.errorCount,
		WarnCount:      w.warnCount,
		RequestCount:   w.requestCount,
		LatencySamples: len(sorted),
		P50LatencyMs:   percentile(sorted, 50),
		P95LatencyMs:   percentile(sorted, 95),
	}
	if len(w.integrationCalls) > 0 {
		s.IntegrationCalls = make(map[string]int64, len(w.integrationCalls))
		for k, v := range w.integrationCalls {
			s.IntegrationCalls[k] = v
		}
	}
	if len(w.integrationErrors) > 0 {
		s.IntegrationErrors = make(map[string]int64, len(w.integrationErrors))
		for k, v := range w.integrationErrors {
			s.IntegrationErrors[k] = v
		}
	}
	return s
}

// ResetStats zeroes every rolling counter and drops latency samples.
// The context window and active skill survive a reset.
func (w *Watcher) ResetStats() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.totalLines = 0
	w.errorCount = 0
	w.warnCount = 0
	w.requestCount = 0
	w.integrationCalls = make(map[string]int64)
	w.integrationErrors = make(map[string]int64)
	w.latencies.reset()
}

// Context returns the joined recent-entry window, the same string
// handed to pattern matching
func (w *Watcher) Context() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.contextLocked()
}

// RecentEntries returns up to n most recent formatted entries,
// oldest first
func (w *Watcher) RecentEntries(n int) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n > len(w.window) {
		n = len(w.window)
	}
	if n <= 0 {
		return nil
	}
	out := make([]string, 0, n)
	for _, e := range w.window[len(w.window)-n:] {
		out = append(out, e.String())
	}
	return out
}

// ActiveSkill returns the most recent skill marker seen in the stream,
// empty when none has appeared
func (w *Watcher) ActiveSkill() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeSkill
}

func (w *Watcher) contextLocked() string {
	if len(w.window) == 0 {
		return ""
	}
	parts := make([]string, 0, len(w.window))
	for _, e := range w.window {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, "\n")
}

// extractLatency pulls the first "<n> ms" duration out of a message,
// rejecting zero and anything at or past the 5-minute bound
func extractLatency(message string) (float64, bool) {
	m := latencyRe.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	ms, err := strconv.Atoi(m[1])
	if err != nil || ms <= 0 || ms >= maxLatencyMs {
		return 0, false
	}
	return float64(ms), true
}

// extractSkill recognizes "[Skill] name", "skill=name", and
// "skill: name" markers
func extractSkill(message string) (string, bool) {
	if m := skillTagRe.FindStringSubmatch(message); m != nil {
		return m[1], true
	}
	if m := skillTokenRe.FindStringSubmatch(message); m != nil {
		return m[1], true
	}
	return "", false
}
