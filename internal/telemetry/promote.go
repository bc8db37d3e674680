package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pitbosshq/pitboss/internal/types"
)

// Promotion severities
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Relative thresholds against the previous snapshot
const (
	errorRateGrowth   = 1.05
	memoryGrowth      = 1.10
	p95LatencyGrowth  = 1.50
	integrationGrowth = 2.0
)

// Decision is the outcome of evaluating one snapshot for promotion
type Decision struct {
	Promote  bool
	Severity string
	Reason   string
}

// Decide evaluates the promotion ladder for cur against prev. A crash
// context always promotes as critical; pending unknown patterns promote
// as warning; otherwise the first snapshot is a baseline only, and
// later snapshots promote on the first relative-threshold breach.
func Decide(cur, prev *types.TelemetrySnapshot) Decision {
	if cur.LastCrashContext != nil {
		return Decision{Promote: true, Severity: SeverityCritical, Reason: "Process restart"}
	}
	if n := len(cur.UnknownErrorPatterns); n > 0 {
		return Decision{
			Promote:  true,
			Severity: SeverityWarning,
			Reason:   fmt.Sprintf("%d unclassified error pattern(s) pending review", n),
		}
	}
	if prev == nil {
		return Decision{}
	}

	if prev.ErrorRate > 0 && cur.ErrorRate > prev.ErrorRate*errorRateGrowth {
		return Decision{
			Promote:  true,
			Severity: SeverityWarning,
			Reason: fmt.Sprintf("Error rate increased %.1f%% (%.1f -> %.1f per 100 requests)",
				relativeGrowth(cur.ErrorRate, prev.ErrorRate), prev.ErrorRate, cur.ErrorRate),
		}
	}
	if prev.MemoryUsage > 0 && float64(cur.MemoryUsage) > float64(prev.MemoryUsage)*memoryGrowth {
		return Decision{
			Promote:  true,
			Severity: SeverityWarning,
			Reason: fmt.Sprintf("Memory usage increased %.1f%% (%.1f MB -> %.1f MB)",
				relativeGrowth(float64(cur.MemoryUsage), float64(prev.MemoryUsage)),
				prev.MemoryUsageMb, cur.MemoryUsageMb),
		}
	}
	if prev.P95LatencyMs > 0 && cur.P95LatencyMs > prev.P95LatencyMs*p95LatencyGrowth {
		return Decision{
			Promote:  true,
			Severity: SeverityWarning,
			Reason: fmt.Sprintf("P95 latency increased %.1f%% (%.0f ms -> %.0f ms)",
				relativeGrowth(cur.P95LatencyMs, prev.P95LatencyMs), prev.P95LatencyMs, cur.P95LatencyMs),
		}
	}

	names := make([]string, 0, len(cur.IntegrationErrorRates))
	for name := range cur.IntegrationErrorRates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prevRate := prev.IntegrationErrorRates[name]
		curRate := cur.IntegrationErrorRates[name]
		if prevRate > 0 && curRate > prevRate*integrationGrowth {
			return Decision{
				Promote:  true,
				Severity: SeverityWarning,
				Reason: fmt.Sprintf("%s error rate more than doubled (%.1f -> %.1f per 100 calls)",
					name, prevRate, curRate),
			}
		}
	}

	return Decision{}
}

func relativeGrowth(cur, prev float64) float64 {
	return (cur/prev - 1) * 100
}

func severityIcon(severity string) string {
	switch severity {
	case SeverityCritical:
		return "🔴"
	case SeverityWarning:
		return "🟡"
	default:
		return "🟢"
	}
}

// BuildReport renders a promoted snapshot into the feed entry format
func BuildReport(snap *types.TelemetrySnapshot, d Decision) *Report {
	var b strings.Builder
	fmt.Fprintf(&b, "Uptime: %s\n", formatUptime(snap.UptimeSeconds))
	fmt.Fprintf(&b, "Memory: %.1f MB\n", snap.MemoryUsageMb)
	fmt.Fprintf(&b, "Requests: %d\n", snap.RequestCount)
	fmt.Fprintf(&b, "Errors: %d (%.1f per 100 requests)\n", snap.ErrorCount, snap.ErrorRate)
	fmt.Fprintf(&b, "P95 latency: %.0f ms", snap.P95LatencyMs)

	if len(snap.UnknownErrorPatterns) > 0 {
		fmt.Fprintf(&b, "\nPending patterns: %s", strings.Join(snap.UnknownErrorPatterns, ", "))
	}

	if cc := snap.LastCrashContext; cc != nil {
		fmt.Fprintf(&b, "\n\nProcess crashed at %s\n", cc.Timestamp.Format("15:04:05"))
		if cc.LastError != "" {
			fmt.Fprintf(&b, "Last error: %s\n", cc.LastError)
		}
		if cc.ActiveSkill != "" {
			fmt.Fprintf(&b, "Active skill: %s\n", cc.ActiveSkill)
		}
		if len(cc.LastFeedEntries) > 0 {
			b.WriteString("Recent output:\n")
			for _, line := range cc.LastFeedEntries {
				fmt.Fprintf(&b, "  %s\n", line)
			}
		}
	}

	return &Report{
		Timestamp: snap.Timestamp,
		Severity:  d.Severity,
		Title:     fmt.Sprintf("%s %s", severityIcon(d.Severity), d.Reason),
		Body:      strings.TrimRight(b.String(), "\n"),
		Snapshot:  snap,
	}
}

// formatUptime renders whole seconds as a compact duration
func formatUptime(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Truncate(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String()
}
