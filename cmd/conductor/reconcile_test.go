package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toseekandfind/multi-agent-sandbox/internal/workspace"
)

func TestStartReconciler_SweepsOrphanedWorkspaceDirs(t *testing.T) {
	withTestGlobals(t)
	cfg.ReconcileInterval = 30 * time.Millisecond
	cfg.ReconcileGracePeriod = time.Millisecond

	ws, err := workspace.New(cfg.WorkspaceRoot)
	require.NoError(t, err)

	jobDir, err := ws.Prepare("acme-corp", "job-one")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(jobDir, "output.txt"), []byte("done"), 0o644))

	// SweepOrphans keys off the job directory's own mtime, so backdate
	// the directory (not just the file inside it) to look abandoned.
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(jobDir, old, old))

	c := startReconciler(ws)
	defer c.Stop()

	require.Eventually(t, func() bool {
		_, err := os.Stat(jobDir)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond, "expected the reconciler to sweep the orphaned job directory")
}
