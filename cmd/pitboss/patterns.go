package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pitbosshq/pitboss/internal/pattern"
	"github.com/pitbosshq/pitboss/internal/storage"
	"github.com/pitbosshq/pitboss/internal/types"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List error patterns",
	Long: `List the error-signature registry: bootstrap signatures, approved
learned patterns, and proposals awaiting review.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pendingOnly, _ := cmd.Flags().GetBool("pending")

		return withRegistry(func(ctx context.Context, reg *pattern.Registry) error {
			cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
			yellow := color.New(color.FgYellow).SprintFunc()
			gray := color.New(color.FgHiBlack).SprintFunc()

			if !pendingOnly {
				active := reg.ActivePatterns()
				fmt.Printf("\n%s\n\n", cyan(fmt.Sprintf("Active Patterns (%d)", len(active))))
				for _, p := range active {
					fmt.Printf("  %-34s %-3s %-26s hits=%-4d %s\n",
						p.ID, p.Severity, p.Action, p.OccurrenceCount, clip(p.Pattern, 48))
				}
				fmt.Println()
			}

			proposals := reg.Proposals()
			ready := make(map[string]bool)
			for _, p := range reg.ReadyForReview() {
				ready[p.ID] = true
			}
			fmt.Printf("%s\n\n", cyan(fmt.Sprintf("Proposed Patterns (%d)", len(proposals))))
			if len(proposals) == 0 {
				fmt.Printf("  %s\n\n", gray("none"))
				return nil
			}
			for _, p := range proposals {
				marker := gray(fmt.Sprintf("seen %d/%d", p.OccurrenceCount, types.ProposalThreshold))
				if ready[p.ID] {
					marker = yellow("ready for review")
				}
				fmt.Printf("  %-34s %-18s %s\n", p.ID, marker, clip(p.Pattern, 48))
			}
			fmt.Println()
			fmt.Println("Resolve with 'pitboss patterns approve <id>' or 'pitboss patterns reject <id>'")
			fmt.Println()
			return nil
		})
	},
}

var patternsApproveCmd = &cobra.Command{
	Use:   "approve <id> [P0|P1|P2] [action]",
	Short: "Promote a proposal to an active pattern",
	Long: `Approve a proposed error pattern, optionally setting its severity and
action (defaults: P1, dispatch_after_threshold). A running supervisor
picks the approval up automatically.`,
	Args: cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		severity := types.SeverityP1
		if len(args) > 1 {
			severity = types.Severity(strings.ToUpper(args[1]))
			if !severity.IsValid() {
				return fmt.Errorf("invalid severity %q (use P0, P1, or P2)", args[1])
			}
		}
		action := types.ActionDispatchAfterThreshold
		if len(args) > 2 {
			action = types.PatternAction(strings.ToLower(args[2]))
			if !action.IsValid() {
				return fmt.Errorf("invalid action %q (use dispatch, dispatch_after_threshold, restart_and_dispatch, or log)", args[2])
			}
		}

		return withRegistry(func(ctx context.Context, reg *pattern.Registry) error {
			if err := reg.Approve(ctx, args[0], severity, action); err != nil {
				return err
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s Approved %s as %s/%s\n", green("✓"), args[0], severity, action)
			return nil
		})
	},
}

var patternsRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Discard a proposed pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(ctx context.Context, reg *pattern.Registry) error {
			if err := reg.Reject(ctx, args[0]); err != nil {
				return err
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s Rejected %s\n", green("✓"), args[0])
			return nil
		})
	},
}

// withRegistry opens the configured store, loads the pattern registry,
// and runs fn against it
func withRegistry(fn func(context.Context, *pattern.Registry) error) error {
	ctx := context.Background()
	store, err := storage.NewStore(storage.Config{
		Backend:      cfg.Storage.Backend,
		Dir:          cfg.Storage.DataDir,
		HeartbeatMax: cfg.Telemetry.HeartbeatMax,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	reg := pattern.NewRegistry(store)
	if err := reg.Load(ctx); err != nil {
		return fmt.Errorf("failed to load patterns: %w", err)
	}
	return fn(ctx, reg)
}

// clip truncates a string to maxLen characters, adding "..." if truncated
func clip(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func init() {
	patternsCmd.Flags().Bool("pending", false, "Show only proposals awaiting review")
	patternsCmd.AddCommand(patternsApproveCmd)
	patternsCmd.AddCommand(patternsRejectCmd)
	rootCmd.AddCommand(patternsCmd)
}
