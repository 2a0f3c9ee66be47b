package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Rrens/sales-copilot/internal/app"
	"github.com/Rrens/sales-copilot/internal/config"
	"github.com/Rrens/sales-copilot/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string // overrides CONFIG_PATH
	userID     string
	agentID    string
)

func main() {
	root := &cobra.Command{
		Use:   "copilot",
		Short: "Sales Copilot: chat with the pre-call and post-call agents",
		Long: `copilot talks to the configured agent runtimes from the terminal and
keeps every conversation in the same session store the API server uses.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: $CONFIG_PATH or ./configs/config.yaml)")
	root.PersistentFlags().StringVarP(&userID, "user", "u", os.Getenv("USER"), "user id the sessions belong to")

	root.AddCommand(chatCmd())
	root.AddCommand(sessionsCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(deleteCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStack loads configuration and builds the conversation stack. The
// returned closer flushes logs and closes the store.
func openStack(ctx context.Context) (*app.Stack, io.Closer, error) {
	_ = godotenv.Load()

	if configPath != "" {
		os.Setenv("CONFIG_PATH", configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Logging.Level == "info" {
		// keep the terminal for the conversation
		cfg.Logging.Level = "warn"
	}

	logCloser, err := logger.Setup(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}

	stack, err := app.Build(ctx, cfg, nil)
	if err != nil {
		logCloser.Close()
		return nil, nil, err
	}

	return stack, closers{stack.Store, logCloser}, nil
}

type closers []io.Closer

func (c closers) Close() error {
	var first error
	for _, cl := range c {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func requireUser() error {
	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}
