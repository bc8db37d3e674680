package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pitbosshq/pitboss/internal/supervisor"
)

// shutdownTimeout bounds the graceful stop on SIGINT/SIGTERM
const shutdownTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the supervisor daemon",
	Long: `Start the supervisor: spawn the worker, stream and classify its
output, record telemetry heartbeats, and escalate matched failures.

The supervisor owns the data directory for the duration of the run; a
second supervisor on the same directory refuses to start. On SIGINT or
SIGTERM the worker is stopped gracefully (SIGTERM, then SIGKILL after
the stop timeout) before the supervisor exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		sup, err := supervisor.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create supervisor: %w", err)
		}

		fmt.Printf("Supervising %s (data dir %s)\n", cfg.Worker.SourceDir, cfg.Storage.DataDir)
		if err := sup.Start(ctx); err != nil {
			return fmt.Errorf("failed to start supervisor: %w", err)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		fmt.Println("Supervisor running. Press Ctrl+C to stop.")
		<-sigCh
		fmt.Println("\nShutting down supervisor...")

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sup.Stop(stopCtx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}

		fmt.Println("Supervisor stopped.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
