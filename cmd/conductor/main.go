// Package main is the entry point for the conductor CLI: the process
// that serves the tenant HTTP API, runs dispatch/conductor workers, and
// offers a handful of operator subcommands for local development.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/toseekandfind/multi-agent-sandbox/internal/config"
	"github.com/toseekandfind/multi-agent-sandbox/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *slog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "conductor",
		Short: "Multi-tenant job orchestrator and multi-agent workflow conductor",
		Long: `conductor dispatches tenant-submitted jobs to registered executor
strategies and drives multi-node agent workflows (single, parallel, and
swarm nodes) to completion, with per-tenant isolation throughout.`,
		Version:           "0.1.0",
		PersistentPreRunE: loadConfig,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file (env vars always win)")

	rootCmd.AddCommand(
		serveCmd(),
		workerCmd(),
		submitCmd(),
		migrateCmd(),
		watchCmd(),
		keygenCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded
	level := "info"
	if cfg.Verbose {
		level = "debug"
	}
	log = logging.New(logging.Options{Level: level, JSON: !isTerminalStderr(), Out: os.Stderr})
	return nil
}

// isTerminalStderr is a coarse heuristic: emit JSON logs unless stderr
// looks like an interactive terminal, so local `conductor serve` runs
// stay human-readable while a supervised deployment gets structured logs.
func isTerminalStderr() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return true
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
