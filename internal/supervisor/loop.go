package supervisor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pitbosshq/pitboss/internal/dispatch"
	"github.com/pitbosshq/pitboss/internal/events"
	"github.com/pitbosshq/pitboss/internal/logwatch"
	"github.com/pitbosshq/pitboss/internal/process"
	"github.com/pitbosshq/pitboss/internal/types"
)

const (
	// matchRingLimit bounds the recent-match list in status output
	matchRingLimit = 50

	// deliverTimeout bounds one escalation delivery, annotation included
	deliverTimeout = 60 * time.Second

	// annotateBudget is the slice of the delivery window the optional
	// triage annotation may use
	annotateBudget = 10 * time.Second
)

// consumeLoop is the single consumer for worker output and the stats
// timer. Everything that mutates rolling stats or decides an escalation
// runs here, in arrival order.
func (s *Supervisor) consumeLoop() {
	defer s.wg.Done()

	interval := s.cfg.Telemetry.StatsInterval.Std()
	statsTmr := time.NewTimer(interval)
	defer statsTmr.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case line, ok := <-s.manager.Lines():
			if !ok {
				return
			}
			s.handleLine(s.ctx, line)
		case <-statsTmr.C:
			s.logStats()
			statsTmr.Reset(interval)
		}
	}
}

// handleLine runs one worker output line through parsing, stats,
// process-health bookkeeping, and the escalation pipeline.
func (s *Supervisor) handleLine(ctx context.Context, line process.Line) {
	res := s.watcher.ProcessLine(ctx, line)

	s.collector.RecordLine()
	switch res.Entry.Level {
	case logwatch.LevelError:
		s.collector.RecordError()
	case logwatch.LevelWarn:
		s.collector.RecordWarning()
	}
	if res.LatencyMs > 0 {
		s.collector.ObserveLatency(res.LatencyMs)
	}

	// Health bookkeeping comes before dispatch decisions so a threshold
	// check sees the very line that triggered it.
	if res.Entry.Level == logwatch.LevelError {
		s.manager.RecordError(res.Entry.Message)
		s.emitter.Emit(events.NewErrorEvent(res.Entry.Message, hasDispatchableMatch(res.Matches)))
	} else if s.isIntegrationSuccess(res.Entry.Message) {
		s.manager.RecordSuccess()
	}

	if res.NewProposal != nil {
		fmt.Printf("[supervisor] Proposed new error pattern %q for review\n", res.NewProposal.Pattern)
		s.emitter.Emit(events.NewLogEvent("info",
			fmt.Sprintf("proposed new error pattern %q", res.NewProposal.Pattern)))
	}

	for _, match := range res.Matches {
		s.collector.RecordMatch()
		s.rememberMatch(match)
		s.emitter.Emit(events.NewPatternMatchedEvent(match))
		s.decideAndDispatch(ctx, match)
	}
}

// decideAndDispatch runs a match through the decision table and dedup
// guard, then hands the formatted escalation to the async delivery path
func (s *Supervisor) decideAndDispatch(ctx context.Context, match *types.PatternMatch) {
	state := s.manager.State()
	decision := dispatch.Decide(match.Pattern, state.ConsecutiveErrors, s.cfg.Dispatch.ErrorThreshold)
	if !decision.Escalate {
		if match.Pattern.Action != types.ActionLog {
			fmt.Printf("[supervisor] Holding escalation for %q: %s\n", match.Pattern.Pattern, decision.Reason)
			s.collector.RecordDispatchSkipped()
		}
		return
	}

	if !s.deduper.ShouldDispatch(match.Pattern.Pattern) {
		fmt.Printf("[supervisor] Skipping escalation for %q: same signature dispatched recently\n", match.Pattern.Pattern)
		s.collector.RecordDispatchSkipped()
		return
	}

	payload := dispatch.BuildDispatch(match, state, s.now())

	s.wg.Add(1)
	go s.deliver(ctx, payload, match.Pattern)
}

// deliver runs off the consumer loop so a slow executor cannot stall
// line processing. Dedup state was already recorded, so a failure here
// cannot hot-loop the tracker.
func (s *Supervisor) deliver(ctx context.Context, payload *types.PitCrewDispatch, p *types.ErrorPattern) {
	defer s.wg.Done()

	dctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()

	if s.annotator != nil {
		actx, acancel := context.WithTimeout(dctx, annotateBudget)
		note, err := s.annotator.Annotate(actx, p)
		acancel()
		if err == nil && note != "" {
			payload.Metadata["triage_note"] = note
		}
	}

	result, err := s.deliverer.Deliver(dctx, payload)
	switch {
	case err != nil:
		fmt.Fprintf(os.Stderr, "Warning: escalation delivery failed: %v\n", err)
	case result == nil:
		// Executor unconfigured or rate guard tripped; the deliverer
		// already logged the skip
		s.collector.RecordDispatchSkipped()
	default:
		s.collector.RecordDispatchSent()
		s.manager.RecordDispatch(payload.ID)
	}
}

// logStats emits the periodic stream summary and refreshes the gauges
func (s *Supervisor) logStats() {
	stats := s.watcher.Stats()
	state := s.manager.State()

	s.collector.SetWorkerUp(state.Status == types.StatusRunning)
	s.collector.SetConsecutiveErrors(state.ConsecutiveErrors)

	msg := fmt.Sprintf("lines=%d errors=%d warns=%d requests=%d error_rate=%.1f p95=%.0fms",
		stats.TotalLines, stats.ErrorCount, stats.WarnCount, stats.RequestCount,
		stats.ErrorRate(), stats.P95LatencyMs)
	fmt.Printf("[supervisor] Stats: %s\n", msg)
	s.emitter.Emit(events.NewLogEvent("info", "stats: "+msg))
}

// handleEvent reacts to the event stream for crash capture and gauge
// upkeep. Handlers run synchronously on the emitting goroutine, so
// everything here must stay non-blocking.
func (s *Supervisor) handleEvent(ev events.Event) {
	switch ev.Type {
	case events.EventStarted:
		s.collector.SetWorkerUp(true)
		s.mu.Lock()
		restarted := s.startedOnce
		s.startedOnce = true
		s.mu.Unlock()
		if restarted {
			s.collector.RecordRestart()
		}
	case events.EventStopped:
		s.collector.SetWorkerUp(false)
		if state := s.manager.State(); state.Status == types.StatusErrored {
			s.captureCrashContext(state)
		}
	case events.EventTelemetry:
		if ev.Telemetry != nil && ev.Telemetry.Promoted {
			s.collector.RecordPromotion()
		}
	}
}

// captureCrashContext snapshots the stream tail at the moment of an
// unexpected exit for the next telemetry report
func (s *Supervisor) captureCrashContext(state *types.ProcessState) {
	cc := &types.CrashContext{
		LastFeedEntries: s.watcher.RecentEntries(types.CrashContextFeedLines),
		LastError:       state.LastError,
		ActiveSkill:     s.watcher.ActiveSkill(),
		Timestamp:       s.now(),
	}
	s.aggregator.SetCrashContext(cc)
	fmt.Printf("[supervisor] Captured crash context (%d feed lines)\n", len(cc.LastFeedEntries))
}

// isIntegrationSuccess reports whether a line shows a successful
// integration call: it carries one of the configured integration tags
// and none of the failure markers
func (s *Supervisor) isIntegrationSuccess(message string) bool {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "error") || strings.Contains(lower, "failed") {
		return false
	}
	for _, tags := range s.cfg.Integrations {
		for _, tag := range tags {
			if strings.Contains(message, tag) {
				return true
			}
		}
	}
	return false
}

// rememberMatch keeps the most recent matches for status output
func (s *Supervisor) rememberMatch(match *types.PatternMatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentMatches = append(s.recentMatches, match.Clone())
	if len(s.recentMatches) > matchRingLimit {
		s.recentMatches = s.recentMatches[len(s.recentMatches)-matchRingLimit:]
	}
}

// hasDispatchableMatch reports whether any match could escalate
func hasDispatchableMatch(matches []*types.PatternMatch) bool {
	for _, m := range matches {
		if m.Pattern.Action != types.ActionLog {
			return true
		}
	}
	return false
}
