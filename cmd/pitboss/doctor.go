package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pitbosshq/pitboss/internal/events"
	"github.com/pitbosshq/pitboss/internal/pattern"
	"github.com/pitbosshq/pitboss/internal/process"
	"github.com/pitbosshq/pitboss/internal/storage"
	"github.com/pitbosshq/pitboss/internal/telemetry"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check pitboss installation and environment health",
	Long: `Run health checks to diagnose common configuration and environment
issues.

This command checks for:
- Config file validity
- Worker source directory, manifest, and entry file
- Worker runtime availability and minimum version
- Data directory permissions
- Daemon lock state (running or stale supervisor)
- Pattern store accessibility
- Telemetry feed readability
- ANTHROPIC_API_KEY for triage annotations

Exit codes:
  0 - All checks passed
  1 - One or more checks failed (but not critical)
  2 - Critical failures that prevent the supervisor from running`,
	Run: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		fmt.Printf("Running pitboss health checks...\n\n")

		var failures []string
		var warnings []string
		var criticalFailures []string

		// Check 1: Config file
		fmt.Printf("%s Configuration\n", cyan("→"))
		if cfgLoadErr != nil {
			criticalFailures = append(criticalFailures, fmt.Sprintf("Config invalid: %v", cfgLoadErr))
			fmt.Printf("  %s Config file %s is invalid\n", red("✗"), cfgFile)
			if verbose {
				fmt.Printf("    Error: %v\n", cfgLoadErr)
			}
			fmt.Printf("    Running remaining checks against defaults\n")
		} else if _, err := os.Stat(cfgFile); err != nil {
			fmt.Printf("  %s No config file at %s (using defaults)\n", green("✓"), cfgFile)
		} else {
			fmt.Printf("  %s Config loaded from %s\n", green("✓"), cfgFile)
		}
		if verbose {
			fmt.Printf("    Worker:   %s %s (in %s)\n", cfg.Worker.Command, cfg.Worker.EntryFile, cfg.Worker.SourceDir)
			fmt.Printf("    Data dir: %s\n", cfg.Storage.DataDir)
		}

		// Check 2: Worker source
		fmt.Printf("%s Worker source\n", cyan("→"))
		if info, err := os.Stat(cfg.Worker.SourceDir); err != nil {
			criticalFailures = append(criticalFailures, fmt.Sprintf("Worker source directory %s does not exist", cfg.Worker.SourceDir))
			fmt.Printf("  %s Source directory %s does not exist\n", red("✗"), cfg.Worker.SourceDir)
		} else if !info.IsDir() {
			criticalFailures = append(criticalFailures, fmt.Sprintf("Worker source %s is not a directory", cfg.Worker.SourceDir))
			fmt.Printf("  %s %s is not a directory\n", red("✗"), cfg.Worker.SourceDir)
		} else {
			fmt.Printf("  %s Source directory exists\n", green("✓"))
			if cfg.Worker.ManifestFile != "" {
				manifest := filepath.Join(cfg.Worker.SourceDir, cfg.Worker.ManifestFile)
				if _, err := os.Stat(manifest); err != nil {
					failures = append(failures, fmt.Sprintf("Worker manifest %s not found", manifest))
					fmt.Printf("  %s Manifest %s not found\n", red("✗"), cfg.Worker.ManifestFile)
				} else {
					fmt.Printf("  %s Manifest %s present\n", green("✓"), cfg.Worker.ManifestFile)
				}
			}
			if cfg.Worker.EntryFile != "" {
				entry := filepath.Join(cfg.Worker.SourceDir, cfg.Worker.EntryFile)
				if _, err := os.Stat(entry); err != nil {
					failures = append(failures, fmt.Sprintf("Worker entry file %s not found", entry))
					fmt.Printf("  %s Entry file %s not found\n", red("✗"), cfg.Worker.EntryFile)
				} else {
					fmt.Printf("  %s Entry file %s present\n", green("✓"), cfg.Worker.EntryFile)
				}
			}
		}

		// Check 3: Worker runtime
		fmt.Printf("%s Worker runtime\n", cyan("→"))
		if _, err := exec.LookPath(cfg.Worker.Command); err != nil {
			criticalFailures = append(criticalFailures, fmt.Sprintf("Runtime %q not found on PATH", cfg.Worker.Command))
			fmt.Printf("  %s %q not found on PATH\n", red("✗"), cfg.Worker.Command)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			mgr := process.NewManager(cfg.Worker, events.NewEmitter())
			ver, err := mgr.CheckRuntime(ctx)
			cancel()
			if err != nil {
				failures = append(failures, fmt.Sprintf("Runtime check failed: %v", err))
				fmt.Printf("  %s %v\n", red("✗"), err)
			} else {
				fmt.Printf("  %s %s %s", green("✓"), cfg.Worker.Command, ver)
				if cfg.Worker.RuntimeMinVersion != "" {
					fmt.Printf(" (minimum %s)", cfg.Worker.RuntimeMinVersion)
				}
				fmt.Println()
			}
		}

		// Check 4: Data directory
		fmt.Printf("%s Data directory\n", cyan("→"))
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			criticalFailures = append(criticalFailures, fmt.Sprintf("Cannot create data directory: %v", err))
			fmt.Printf("  %s Cannot create %s\n", red("✗"), cfg.Storage.DataDir)
		} else {
			probe := filepath.Join(cfg.Storage.DataDir, ".doctor-probe")
			if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
				criticalFailures = append(criticalFailures, fmt.Sprintf("Data directory not writable: %v", err))
				fmt.Printf("  %s %s is not writable\n", red("✗"), cfg.Storage.DataDir)
			} else {
				os.Remove(probe)
				fmt.Printf("  %s %s is writable\n", green("✓"), cfg.Storage.DataDir)
			}
		}

		// Check 5: Daemon lock
		fmt.Printf("%s Supervisor lock\n", cyan("→"))
		if lock, alive := storage.InspectLock(cfg.Storage.DataDir); lock == nil {
			fmt.Printf("  %s No supervisor running\n", green("✓"))
		} else if alive {
			fmt.Printf("  %s Supervisor running (pid %d since %s)\n", green("✓"),
				lock.PID, lock.StartedAt.Format(time.RFC3339))
		} else {
			warnings = append(warnings, fmt.Sprintf("Stale lock from pid %d (will be taken over on next run)", lock.PID))
			fmt.Printf("  %s Stale lock from pid %d\n", yellow("⚠"), lock.PID)
		}

		// Check 6: Pattern store
		fmt.Printf("%s Pattern store\n", cyan("→"))
		store, err := storage.NewStore(storage.Config{
			Backend:      cfg.Storage.Backend,
			Dir:          cfg.Storage.DataDir,
			HeartbeatMax: cfg.Telemetry.HeartbeatMax,
		})
		if err != nil {
			failures = append(failures, fmt.Sprintf("Cannot open store: %v", err))
			fmt.Printf("  %s Cannot open %s store\n", red("✗"), cfg.Storage.Backend)
			if verbose {
				fmt.Printf("    Error: %v\n", err)
			}
		} else {
			reg := pattern.NewRegistry(store)
			ctx := context.Background()
			if err := reg.Load(ctx); err != nil {
				failures = append(failures, fmt.Sprintf("Cannot load patterns: %v", err))
				fmt.Printf("  %s Cannot load patterns\n", red("✗"))
			} else {
				stats := reg.Stats()
				fmt.Printf("  %s %d active pattern(s), %d proposal(s)\n", green("✓"), stats.Active, stats.Proposed)
				if stats.ReadyForReview > 0 {
					fmt.Printf("  %s %d proposal(s) ready for review\n", yellow("⚠"), stats.ReadyForReview)
				}
			}
			store.Close()
		}

		// Check 7: Telemetry feed
		fmt.Printf("%s Telemetry feed\n", cyan("→"))
		if reports, err := telemetry.ReadReports(cfg.FeedPath()); err != nil {
			failures = append(failures, fmt.Sprintf("Cannot read feed: %v", err))
			fmt.Printf("  %s Cannot read %s\n", red("✗"), cfg.FeedPath())
		} else if len(reports) == 0 {
			fmt.Printf("  %s Feed empty (no reports promoted yet)\n", green("✓"))
		} else {
			last := reports[len(reports)-1]
			fmt.Printf("  %s %d report(s), last at %s\n", green("✓"), len(reports),
				last.Timestamp.Format("2006-01-02 15:04:05"))
		}

		// Check 8: Triage credentials
		fmt.Printf("%s Triage annotations\n", cyan("→"))
		if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey == "" {
			if cfg.Triage.Enabled {
				failures = append(failures, "Triage enabled but ANTHROPIC_API_KEY not set")
				fmt.Printf("  %s ANTHROPIC_API_KEY not set (triage is enabled)\n", red("✗"))
			} else {
				fmt.Printf("  %s ANTHROPIC_API_KEY not set (triage disabled, not needed)\n", green("✓"))
			}
		} else {
			fmt.Printf("  %s ANTHROPIC_API_KEY is set\n", green("✓"))
			if verbose && len(apiKey) > 14 {
				fmt.Printf("    Key: %s...%s\n", apiKey[:10], apiKey[len(apiKey)-4:])
			}
		}

		// Summary
		fmt.Printf("\n%s\n", strings.Repeat("─", 60))

		totalIssues := len(criticalFailures) + len(failures) + len(warnings)
		if totalIssues == 0 {
			fmt.Printf("%s All checks passed! Pitboss is ready to run.\n", green("✓"))
			os.Exit(0)
		}

		if len(criticalFailures) > 0 {
			fmt.Printf("\n%s Critical failures (%d):\n", red("✗"), len(criticalFailures))
			for _, failure := range criticalFailures {
				fmt.Printf("  • %s\n", failure)
			}
		}
		if len(failures) > 0 {
			fmt.Printf("\n%s Failures (%d):\n", red("✗"), len(failures))
			for _, failure := range failures {
				fmt.Printf("  • %s\n", failure)
			}
		}
		if len(warnings) > 0 {
			fmt.Printf("\n%s Warnings (%d):\n", yellow("⚠"), len(warnings))
			for _, warning := range warnings {
				fmt.Printf("  • %s\n", warning)
			}
		}

		if len(criticalFailures) > 0 {
			fmt.Printf("\n%s The supervisor cannot run until critical issues are resolved.\n", red("✗"))
			os.Exit(2)
		}
		if len(failures) > 0 {
			fmt.Printf("\n%s Pitboss may not work correctly. Please address the failures above.\n", yellow("⚠"))
			os.Exit(1)
		}

		fmt.Printf("\n%s Pitboss should work, but some warnings were detected.\n", green("✓"))
		os.Exit(0)
	},
}

func init() {
	doctorCmd.Flags().BoolP("verbose", "v", false, "Show detailed diagnostic information")
	rootCmd.AddCommand(doctorCmd)
}
