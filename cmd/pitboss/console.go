package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pitbosshq/pitboss/internal/console"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Start the interactive review console",
	Long: `Start an interactive shell for reviewing error-pattern proposals
and reading recent telemetry.

The console works directly against the data directory, so it can run
alongside the supervisor daemon; approvals are picked up by the daemon
automatically.

Type 'help' in the console for available commands.`,
	Run: func(cmd *cobra.Command, args []string) {
		c, err := console.New(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create console: %v\n", err)
			os.Exit(1)
		}

		ctx := context.Background()
		if err := c.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}
