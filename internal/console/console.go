// Package console is the interactive review shell: it lets an operator
// inspect pattern proposals, approve or reject them, and read recent
// telemetry without attaching to the supervisor process. It works
// directly against the shared data directory; a running supervisor picks
// approvals up through its pattern-file watch.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/pitbosshq/pitboss/internal/config"
	"github.com/pitbosshq/pitboss/internal/pattern"
	"github.com/pitbosshq/pitboss/internal/storage"
	"github.com/pitbosshq/pitboss/internal/triage"
)

// Console represents the interactive review shell
type Console struct {
	cfg       *config.Config
	store     storage.Store
	registry  *pattern.Registry
	annotator *triage.Annotator
	rl        *readline.Instance
	ctx       context.Context
	commands  map[string]CommandHandler
}

// CommandHandler handles a specific command
type CommandHandler func(args []string) error

// New creates a console backed by the configured storage
func New(cfg *config.Config) (*Console, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	store, err := storage.NewStore(storage.Config{
		Backend:      cfg.Storage.Backend,
		Dir:          cfg.Storage.DataDir,
		HeartbeatMax: cfg.Telemetry.HeartbeatMax,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return NewWithStore(cfg, store)
}

// NewWithStore creates a console on an existing store
func NewWithStore(cfg *config.Config, store storage.Store) (*Console, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	c := &Console{
		cfg:      cfg,
		store:    store,
		registry: pattern.NewRegistry(store),
		commands: make(map[string]CommandHandler),
	}

	if cfg.Triage.Enabled {
		annotator, err := triage.NewAnnotator(&triage.Config{Model: cfg.Triage.Model})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to initialize triage annotator: %v (continuing without annotations)\n", err)
		} else {
			c.annotator = annotator
		}
	}

	c.registerCommands()
	return c, nil
}

// Run starts the console loop
func (c *Console) Run(ctx context.Context) error {
	c.ctx = ctx

	if err := c.registry.Load(ctx); err != nil {
		return fmt.Errorf("failed to load patterns: %w", err)
	}

	cyan := color.New(color.FgCyan).SprintFunc()
	prompt := cyan("pitboss> ")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       filepath.Join(c.cfg.Storage.DataDir, ".console_history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	c.rl = rl
	c.printWelcome()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			} else if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := c.processInput(line); err != nil {
			if err == io.EOF {
				return nil
			}
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("%s %v\n", red("Error:"), err)
		}
	}
}

// processInput processes a single line of input
func (c *Console) processInput(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	command := parts[0]
	args := parts[1:]

	if handler, ok := c.commands[command]; ok {
		return handler(args)
	}

	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Printf("%s Unknown command %q. Type 'help' for available commands.\n", yellow("Note:"), command)
	return nil
}

// registerCommands registers all built-in commands
func (c *Console) registerCommands() {
	c.commands["help"] = c.cmdHelp
	c.commands["?"] = c.cmdHelp
	c.commands["status"] = c.cmdStatus
	c.commands["patterns"] = c.cmdPatterns
	c.commands["review"] = c.cmdReview
	c.commands["approve"] = c.cmdApprove
	c.commands["reject"] = c.cmdReject
	c.commands["feed"] = c.cmdFeed
	c.commands["exit"] = c.cmdExit
	c.commands["quit"] = c.cmdExit
}

// printWelcome prints the welcome message
func (c *Console) printWelcome() {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s\n", cyan("Pitboss Console"))
	fmt.Printf("Pattern review and telemetry for %s\n", c.cfg.Storage.DataDir)
	fmt.Println()
	fmt.Println("Type 'help' for available commands, 'exit' to quit")
	fmt.Println()
}

// cmdHelp shows help information
func (c *Console) cmdHelp(args []string) error {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("\n%s\n", cyan("Available Commands:"))
	fmt.Println()

	commands := []struct {
		name string
		desc string
	}{
		{"help, ?", "Show this help message"},
		{"status", "Show worker health from the latest heartbeat"},
		{"patterns [pending|active]", "List error patterns"},
		{"review <id>", "Show a proposal with its sample contexts"},
		{"approve <id> [P0|P1|P2] [action]", "Promote a proposal to an active pattern"},
		{"reject <id>", "Discard a proposal"},
		{"feed [n]", "Show the n most recent telemetry reports"},
		{"exit, quit", "Exit the console"},
	}
	for _, cmd := range commands {
		fmt.Printf("  %-36s %s\n", green(cmd.name), cmd.desc)
	}

	fmt.Println()
	fmt.Println("Actions: dispatch, dispatch_after_threshold, restart_and_dispatch, log")
	fmt.Println()
	return nil
}

// cmdExit exits the console
func (c *Console) cmdExit(args []string) error {
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("\n%s Goodbye!\n", green("✓"))
	if c.rl != nil {
		c.rl.Close()
	}
	return io.EOF
}
