package main

import (
	"github.com/robfig/cron/v3"

	"github.com/toseekandfind/multi-agent-sandbox/internal/workspace"
)

// startReconciler schedules a periodic sweep of workspace directories a
// crashed worker never cleaned up, on ReconcileInterval, treating
// anything older than ReconcileGracePeriod as abandoned. Returns the
// running cron.Cron so the caller can Stop it on shutdown.
func startReconciler(ws *workspace.Manager) *cron.Cron {
	c := cron.New()
	spec := "@every " + cfg.ReconcileInterval.String()
	_, err := c.AddFunc(spec, func() {
		swept, err := ws.SweepOrphans(cfg.ReconcileGracePeriod)
		if err != nil {
			log.Warn("workspace sweep failed", "error", err)
			return
		}
		if swept > 0 {
			log.Info("swept orphaned workspaces", "count", swept)
		}
	})
	if err != nil {
		log.Error("failed to schedule reconciler", "error", err)
		return c
	}
	c.Start()
	return c
}
