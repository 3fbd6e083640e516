package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/toseekandfind/multi-agent-sandbox/internal/blackboard"
	"github.com/toseekandfind/multi-agent-sandbox/internal/watcher"
)

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Watch one swarm run's blackboard and exit escalate/done",
		Long: `Runs tier 1 of the liveness watcher against one run's blackboard
until it reaches a terminal decision, then exits 0 for "complete" or 3
for "intervention_needed" so a supervising process (systemd, a CI job,
another script) can branch on the exit code without parsing output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			ctx, cancel := signalContext()
			defer cancel()

			boards, err := blackboard.NewManager(filepath.Join(cfg.WorkspaceRoot, "boards"))
			if err != nil {
				return err
			}
			signalDir := filepath.Join(cfg.WorkspaceRoot, "escalations")
			tier1, err := watcher.NewTier1(boards, signalDir, log, watcher.Options{
				PollInterval:     cfg.PollInterval,
				HeartbeatTimeout: cfg.HeartbeatTimeout,
			})
			if err != nil {
				return err
			}

			decision, err := tier1.Watch(ctx, runID, func() []string { return nil })
			if err != nil {
				return err
			}

			fmt.Printf("run %s: %s\n", runID, decision)
			if decision == watcher.DecisionInterventionNeeded {
				os.Exit(watcher.ExitEscalate)
			}
			os.Exit(watcher.ExitDone)
			return nil
		},
	}
	return cmd
}
