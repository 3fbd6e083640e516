package workspace

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPrepareAndCleanup(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)

	dir, err := m.Prepare("acme", "job-1")
	require.NoError(t, err)
	require.DirExists(t, dir)

	m.Cleanup("acme", "job-1")
	require.NoDirExists(t, dir)
}

func TestPrepareRejectsInvalidTenant(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = m.Prepare("bad tenant!", "job-1")
	require.Error(t, err)
}

func TestSweepOrphansRemovesStaleDirs(t *testing.T) {
	root := t.TempDir()
	m, err := New(root)
	require.NoError(t, err)

	staleDir, err := m.Prepare("acme", "old-job")
	require.NoError(t, err)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(staleDir, old, old))

	freshDir, err := m.Prepare("acme", "new-job")
	require.NoError(t, err)

	swept, err := m.SweepOrphans(time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, swept)
	require.NoDirExists(t, staleDir)
	require.DirExists(t, freshDir)
}
