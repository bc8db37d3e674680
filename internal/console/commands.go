package console

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/pitbosshq/pitboss/internal/telemetry"
	"github.com/pitbosshq/pitboss/internal/types"
)

// annotateTimeout bounds the optional AI annotation during review
const annotateTimeout = 10 * time.Second

// cmdStatus shows worker health from the latest stored heartbeat
func (c *Console) cmdStatus(args []string) error {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	stats := c.registry.Stats()

	fmt.Printf("\n%s\n\n", cyan("Supervisor Status"))
	fmt.Printf("  Patterns: %d active (%d bootstrap, %d learned), %d proposed",
		stats.Active, stats.Bootstrap, stats.Learned, stats.Proposed)
	if stats.ReadyForReview > 0 {
		fmt.Printf(", %s", yellow(fmt.Sprintf("%d ready for review", stats.ReadyForReview)))
	}
	fmt.Println()

	hb, err := c.store.LatestHeartbeat(c.cmdContext())
	if err != nil {
		return fmt.Errorf("failed to read heartbeats: %w", err)
	}
	if hb == nil {
		fmt.Printf("\n%s No heartbeats recorded yet. Is the supervisor running?\n\n", yellow("ℹ"))
		return nil
	}

	snap := hb.Snapshot
	age := time.Since(hb.Timestamp).Round(time.Second)
	fmt.Printf("\n  Last heartbeat: %s (%s ago)\n", hb.Timestamp.Format(time.RFC3339), age)
	fmt.Printf("    Uptime:   %s\n", (time.Duration(snap.UptimeSeconds) * time.Second).String())
	fmt.Printf("    Memory:   %.1f MB\n", snap.MemoryUsageMb)
	fmt.Printf("    Requests: %d (%d errors, %.1f%% error rate)\n", snap.RequestCount, snap.ErrorCount, snap.ErrorRate)
	fmt.Printf("    Latency:  P50 %.0fms, P95 %.0fms\n", snap.P50LatencyMs, snap.P95LatencyMs)
	if len(snap.UnknownErrorPatterns) > 0 {
		fmt.Printf("    Unknown error keys: %s\n", strings.Join(snap.UnknownErrorPatterns, ", "))
	}
	fmt.Println()
	return nil
}

// cmdPatterns lists error patterns, optionally filtered to pending
// proposals or active signatures
func (c *Console) cmdPatterns(args []string) error {
	filter := "all"
	if len(args) > 0 {
		filter = strings.ToLower(args[0])
	}

	switch filter {
	case "pending":
		return c.listPending()
	case "active":
		return c.listActive()
	case "all":
		if err := c.listActive(); err != nil {
			return err
		}
		return c.listPending()
	default:
		return fmt.Errorf("unknown filter %q (use 'pending' or 'active')", filter)
	}
}

func (c *Console) listActive() error {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	active := c.registry.ActivePatterns()
	fmt.Printf("\n%s\n\n", cyan(fmt.Sprintf("Active Patterns (%d)", len(active))))
	for _, p := range active {
		fmt.Printf("  %s  %s %-26s hits=%-4d %s\n",
			green(fmt.Sprintf("%-34s", p.ID)), severityLabel(p.Severity), p.Action,
			p.OccurrenceCount, truncate(p.Pattern, 48))
	}
	fmt.Println()
	return nil
}

func (c *Console) listPending() error {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	proposals := c.registry.Proposals()
	ready := make(map[string]bool)
	for _, p := range c.registry.ReadyForReview() {
		ready[p.ID] = true
	}

	fmt.Printf("\n%s\n\n", cyan(fmt.Sprintf("Proposed Patterns (%d)", len(proposals))))
	if len(proposals) == 0 {
		fmt.Printf("  %s\n\n", gray("none"))
		return nil
	}
	for _, p := range proposals {
		marker := gray(fmt.Sprintf("seen %d/%d", p.OccurrenceCount, types.ProposalThreshold))
		if ready[p.ID] {
			marker = yellow("ready for review")
		}
		fmt.Printf("  %-34s %-18s %s\n", p.ID, marker, truncate(p.Pattern, 48))
	}
	fmt.Println()
	fmt.Println("Use 'review <id>' to inspect a proposal")
	fmt.Println()
	return nil
}

// cmdReview shows one pattern in full, with sample contexts and an
// optional AI triage note
func (c *Console) cmdReview(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: review <id>")
	}
	p, err := c.registry.Get(args[0])
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan(p.ID))
	fmt.Printf("  Pattern:  %s\n", p.Pattern)
	fmt.Printf("  State:    %s\n", patternState(p))
	fmt.Printf("  Severity: %s  Action: %s\n", severityLabel(p.Severity), p.Action)
	fmt.Printf("  Seen:     %d times (first %s, last %s)\n",
		p.OccurrenceCount, p.FirstSeen.Format(time.RFC3339), p.LastSeen.Format(time.RFC3339))
	if p.Description != "" {
		fmt.Printf("  Note:     %s\n", p.Description)
	}

	if len(p.Contexts) > 0 {
		fmt.Printf("\n  Sample contexts:\n")
		for i, sample := range p.Contexts {
			fmt.Printf("  --- sample %d ---\n", i+1)
			for _, line := range strings.Split(truncate(sample, 400), "\n") {
				fmt.Printf("  %s\n", gray(line))
			}
		}
	}

	if c.annotator != nil {
		ctx, cancel := context.WithTimeout(c.cmdContext(), annotateTimeout)
		note, err := c.annotator.Annotate(ctx, p)
		cancel()
		if err != nil {
			fmt.Printf("\n  %s triage annotation unavailable: %v\n", yellow("ℹ"), err)
		} else {
			fmt.Printf("\n  Triage: %s\n", note)
		}
	}

	fmt.Println()
	if !p.Approved {
		fmt.Println("Use 'approve <id> [P0|P1|P2] [action]' or 'reject <id>'")
		fmt.Println()
	}
	return nil
}

// cmdApprove promotes a proposal into the active set
func (c *Console) cmdApprove(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: approve <id> [P0|P1|P2] [action]")
	}
	id := args[0]

	severity := types.SeverityP1
	if len(args) > 1 {
		s, err := parseSeverity(args[1])
		if err != nil {
			return err
		}
		severity = s
	}

	action := types.ActionDispatchAfterThreshold
	if len(args) > 2 {
		a, err := parseAction(args[2])
		if err != nil {
			return err
		}
		action = a
	}

	if err := c.registry.Approve(c.cmdContext(), id, severity, action); err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("\n%s Approved %s as %s/%s\n", green("✓"), id, severity, action)
	fmt.Println("A running supervisor reloads patterns automatically")
	fmt.Println()
	return nil
}

// cmdReject discards a proposal
func (c *Console) cmdReject(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: reject <id>")
	}
	if err := c.registry.Reject(c.cmdContext(), args[0]); err != nil {
		return err
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("\n%s Rejected %s\n\n", green("✓"), args[0])
	return nil
}

// cmdFeed shows the most recent telemetry reports
func (c *Console) cmdFeed(args []string) error {
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("usage: feed [n]")
		}
		limit = n
	}

	reports, err := telemetry.ReadReports(c.cfg.FeedPath())
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("Telemetry Feed"))
	if len(reports) == 0 {
		fmt.Printf("  %s\n\n", gray("no reports yet"))
		return nil
	}

	if len(reports) > limit {
		reports = reports[len(reports)-limit:]
	}
	for _, r := range reports {
		fmt.Printf("  %s  %s  %s\n", r.Timestamp.Format("2006-01-02 15:04:05"),
			severityBadge(r.Severity), r.Title)
	}
	fmt.Println()
	return nil
}

// cmdContext returns the loop context, falling back to Background for
// handlers invoked outside Run
func (c *Console) cmdContext() context.Context {
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}

func patternState(p *types.ErrorPattern) string {
	switch {
	case p.IsBootstrap():
		return "bootstrap"
	case p.Approved:
		return "approved"
	default:
		return "proposed"
	}
}

func severityLabel(s types.Severity) string {
	switch s {
	case types.SeverityP0:
		return color.New(color.FgRed, color.Bold).Sprint(string(s))
	case types.SeverityP1:
		return color.New(color.FgYellow).Sprint(string(s))
	default:
		return color.New(color.FgHiBlack).Sprint(string(s))
	}
}

func severityBadge(severity string) string {
	switch severity {
	case telemetry.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprintf("[%s]", severity)
	case telemetry.SeverityWarning:
		return color.New(color.FgYellow).Sprintf("[%s]", severity)
	default:
		return color.New(color.FgHiBlack).Sprintf("[%s]", severity)
	}
}

func parseSeverity(s string) (types.Severity, error) {
	severity := types.Severity(strings.ToUpper(s))
	if !severity.IsValid() {
		return "", fmt.Errorf("invalid severity %q (use P0, P1, or P2)", s)
	}
	return severity, nil
}

func parseAction(s string) (types.PatternAction, error) {
	action := types.PatternAction(strings.ToLower(s))
	if !action.IsValid() {
		return "", fmt.Errorf("invalid action %q (use dispatch, dispatch_after_threshold, restart_and_dispatch, or log)", s)
	}
	return action, nil
}

// truncate truncates a string to maxLen characters, adding "..." if truncated
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
