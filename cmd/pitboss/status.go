package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pitbosshq/pitboss/internal/pattern"
	"github.com/pitbosshq/pitboss/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show supervisor and worker status",
	Long:  `Display the daemon lock, pattern registry counts, and the latest telemetry heartbeat from the data directory.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Pitboss Status ==="))

		// Daemon lock
		fmt.Printf("%s\n", yellow("Supervisor:"))
		lock, alive := storage.InspectLock(cfg.Storage.DataDir)
		switch {
		case lock == nil:
			fmt.Printf("  %s Not running (no lock in %s)\n", gray("○"), cfg.Storage.DataDir)
		case alive:
			fmt.Printf("  %s Running\n", green("●"))
			fmt.Printf("    Holder: %s (PID %d on %s)\n", lock.Holder, lock.PID, lock.Hostname)
			fmt.Printf("    Since:  %s (%v ago)\n",
				lock.StartedAt.Format("2006-01-02 15:04:05"),
				time.Since(lock.StartedAt).Round(time.Second))
		default:
			fmt.Printf("  %s Stale lock (holder pid %d is gone)\n", yellow("⚠"), lock.PID)
		}
		fmt.Println()

		store, err := storage.NewStore(storage.Config{
			Backend:      cfg.Storage.Backend,
			Dir:          cfg.Storage.DataDir,
			HeartbeatMax: cfg.Telemetry.HeartbeatMax,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		reg := pattern.NewRegistry(store)
		if err := reg.Load(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load patterns: %v\n", err)
			os.Exit(1)
		}
		stats := reg.Stats()

		fmt.Printf("%s\n", yellow("Patterns:"))
		fmt.Printf("  Active:  %d (%d bootstrap, %d learned)\n", stats.Active, stats.Bootstrap, stats.Learned)
		if stats.ReadyForReview > 0 {
			fmt.Printf("  Pending: %d, %s\n", stats.Proposed,
				yellow(fmt.Sprintf("%d ready for review", stats.ReadyForReview)))
			fmt.Printf("  Run 'pitboss console' to review\n")
		} else {
			fmt.Printf("  Pending: %d\n", stats.Proposed)
		}
		fmt.Println()

		fmt.Printf("%s\n", yellow("Last Heartbeat:"))
		hb, err := store.LatestHeartbeat(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read heartbeats: %v\n", err)
			os.Exit(1)
		}
		if hb == nil {
			fmt.Printf("  %s\n", gray("none recorded"))
		} else {
			snap := hb.Snapshot
			fmt.Printf("  Recorded: %s (%v ago)\n",
				hb.Timestamp.Format("2006-01-02 15:04:05"),
				time.Since(hb.Timestamp).Round(time.Second))
			fmt.Printf("  Uptime:   %v\n", time.Duration(snap.UptimeSeconds)*time.Second)
			fmt.Printf("  Memory:   %.1f MB\n", snap.MemoryUsageMb)
			fmt.Printf("  Requests: %d (%d errors, %.1f%% error rate)\n",
				snap.RequestCount, snap.ErrorCount, snap.ErrorRate)
			fmt.Printf("  Latency:  P50 %.0fms, P95 %.0fms\n", snap.P50LatencyMs, snap.P95LatencyMs)
			if len(snap.UnknownErrorPatterns) > 0 {
				fmt.Printf("  Unknown error keys: %s\n", strings.Join(snap.UnknownErrorPatterns, ", "))
			}
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
