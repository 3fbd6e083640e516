package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/toseekandfind/multi-agent-sandbox/internal/dispatch"
	"github.com/toseekandfind/multi-agent-sandbox/internal/webhooks"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the dispatch worker pool, without serving the HTTP API",
		Long: `Run only the dispatch worker pool. Useful for scaling job execution
independently of the API tier: point several worker processes at the
same store/queue backend and they compete for the same work.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			b, err := buildBackends(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			webhookMgr := webhooks.NewManager(log)
			webhookMgr.Start(4)
			defer webhookMgr.Stop(context.Background())

			engine := dispatch.New(log, b.jobs, b.queue, b.registry, b.workspace, dispatch.Options{
				Workers:            cfg.Workers,
				VisibilityTimeout:  cfg.VisibilityTimeout,
				HeartbeatInterval:  cfg.HeartbeatInterval,
				MaxBackoffAttempts: cfg.MaxBackoffAttempts,
			})
			engine.WithNotifier(func(tenantID string, event webhooks.EventType, data map[string]any) {
				webhookMgr.Emit(tenantID, event, data)
			})

			reconciler := startReconciler(b.workspace)
			defer reconciler.Stop()

			log.Info("worker starting", "workers", cfg.Workers)
			return engine.Run(ctx)
		},
	}
}
