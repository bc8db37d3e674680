package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pitbosshq/pitboss/internal/telemetry"
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Show recent telemetry reports",
	Long: `Show the most recent promoted telemetry reports from the feed file.

Reports land here when a snapshot is promoted: after a crash, when
unknown error patterns are pending review, or when error rate, memory,
or latency grow past their thresholds.`,
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		verbose, _ := cmd.Flags().GetBool("verbose")

		reports, err := telemetry.ReadReports(cfg.FeedPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		red := color.New(color.FgRed, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("Telemetry Feed"))
		if len(reports) == 0 {
			fmt.Printf("  %s\n\n", gray("no reports yet"))
			return
		}

		if limit > 0 && len(reports) > limit {
			reports = reports[len(reports)-limit:]
		}
		for _, r := range reports {
			badge := gray(fmt.Sprintf("[%s]", r.Severity))
			if r.Severity == telemetry.SeverityCritical {
				badge = red(fmt.Sprintf("[%s]", r.Severity))
			} else if r.Severity == telemetry.SeverityWarning {
				badge = yellow(fmt.Sprintf("[%s]", r.Severity))
			}
			fmt.Printf("  %s  %s  %s\n", r.Timestamp.Format("2006-01-02 15:04:05"), badge, r.Title)
			if verbose && r.Body != "" {
				for _, line := range strings.Split(r.Body, "\n") {
					fmt.Printf("    %s\n", gray(line))
				}
			}
		}
		fmt.Println()
	},
}

func init() {
	feedCmd.Flags().IntP("limit", "n", 10, "Number of reports to show")
	feedCmd.Flags().BoolP("verbose", "v", false, "Include report bodies")
	rootCmd.AddCommand(feedCmd)
}
