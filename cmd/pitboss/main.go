package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pitbosshq/pitboss/internal/config"
)

// version is stamped by the release build
var version = "dev"

var (
	cfgFile string
	dataDir string

	// cfg is the effective configuration, populated before any command runs
	cfg *config.Config

	// cfgLoadErr lets 'doctor' run against defaults and report the
	// config problem as a failed check instead of dying on it
	cfgLoadErr error
)

var rootCmd = &cobra.Command{
	Use:   "pitboss",
	Short: "Watchdog for a long-running worker process",
	Long: `Pitboss supervises a single worker process: it spawns the worker,
restarts it with backoff when it crashes, classifies its log output
against an error-signature registry, learns new signatures from repeated
unknown errors, records periodic telemetry heartbeats, and escalates
matched failures to the issue tracker.

Commands:
  run       Start the supervisor daemon
  status    Show supervisor and worker status
  patterns  List error patterns
  console   Interactive proposal review shell
  feed      Show recent telemetry reports
  doctor    Check installation and environment health`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			if cmd.Name() != "doctor" {
				return err
			}
			cfgLoadErr = err
			loaded = config.DefaultConfig()
			loaded.ApplyEnv()
		}
		if dataDir != "" {
			loaded.Storage.DataDir = dataDir
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "pitboss.yaml", "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the data directory")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
