// Package workspace manages the tenant/job-scoped scratch directory
// tree an executor strategy runs inside, adapted from the teacher's
// git.WorktreeManager: there a worktree is checked out per task from a
// shared git repo, here a plain directory is created per job under a
// tenant-scoped root and torn down after use, with orphan sweeping for
// whatever a crashed worker left behind.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/toseekandfind/multi-agent-sandbox/internal/identifier"
)

// Manager roots every job's working directory under Root/tenant/job.
type Manager struct {
	Root string
}

// New returns a Manager rooted at root, creating it if absent.
func New(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: mkdir root: %w", err)
	}
	return &Manager{Root: root}, nil
}

func (m *Manager) dir(tenantID, jobID string) (string, error) {
	if _, err := identifier.Validate(tenantID, identifier.Tenant); err != nil {
		return "", fmt.Errorf("workspace: %w", err)
	}
	if _, err := identifier.Validate(jobID, identifier.Run); err != nil {
		return "", fmt.Errorf("workspace: %w", err)
	}
	return filepath.Join(m.Root, tenantID, jobID), nil
}

// Prepare creates and returns a fresh directory for jobID under
// tenantID's namespace.
func (m *Manager) Prepare(tenantID, jobID string) (string, error) {
	dir, err := m.dir(tenantID, jobID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workspace: mkdir job dir: %w", err)
	}
	return dir, nil
}

// Cleanup removes a job's directory. Errors are swallowed by design:
// cleanup runs on the hot path after a job finishes and must never
// itself fail the job; anything left behind is later swept by
// SweepOrphans.
func (m *Manager) Cleanup(tenantID, jobID string) {
	dir, err := m.dir(tenantID, jobID)
	if err != nil {
		return
	}
	_ = os.RemoveAll(dir)
}

// SweepOrphans removes tenant subdirectories whose contents are older
// than olderThan, for a maintenance job to run periodically against
// directories a crashed worker never cleaned up.
func (m *Manager) SweepOrphans(olderThan time.Duration) (int, error) {
	tenants, err := os.ReadDir(m.Root)
	if err != nil {
		return 0, fmt.Errorf("workspace: read root: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	swept := 0
	for _, tenantEntry := range tenants {
		if !tenantEntry.IsDir() {
			continue
		}
		tenantDir := filepath.Join(m.Root, tenantEntry.Name())
		jobs, err := os.ReadDir(tenantDir)
		if err != nil {
			continue
		}
		for _, jobEntry := range jobs {
			jobDir := filepath.Join(tenantDir, jobEntry.Name())
			info, err := jobEntry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.RemoveAll(jobDir); err == nil {
					swept++
				}
			}
		}
	}
	return swept, nil
}
