package jobstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toseekandfind/multi-agent-sandbox/internal/apperr"
	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/store/sqlitestore"
	"github.com/toseekandfind/multi-agent-sandbox/pkg/types"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	backing, err := sqlitestore.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { backing.Close() })
	return New(backing)
}

func TestSubmitAndGet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	job, err := s.Submit(ctx, "acme", "run-workflow", []byte(`{"x":1}`))
	require.NoError(t, err)
	require.Equal(t, types.JobQueued, job.State)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, got.ID)
}

func TestClaimSucceedLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	job, err := s.Submit(ctx, "acme", "run-workflow", nil)
	require.NoError(t, err)

	claimed, err := s.Claim(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	require.Equal(t, types.JobRunning, claimed.State)
	require.Equal(t, "worker-1", claimed.WorkerID)

	done, err := s.Succeed(ctx, job.ID, "blob://result/1")
	require.NoError(t, err)
	require.Equal(t, types.JobSucceeded, done.State)
	require.Equal(t, "blob://result/1", done.ResultPointer)
}

func TestClaimTwiceFails(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	job, err := s.Submit(ctx, "acme", "t", nil)
	require.NoError(t, err)

	_, err = s.Claim(ctx, job.ID, "w1")
	require.NoError(t, err)

	_, err = s.Claim(ctx, job.ID, "w2")
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestFailFromRunning(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	job, err := s.Submit(ctx, "acme", "t", nil)
	require.NoError(t, err)
	_, err = s.Claim(ctx, job.ID, "w1")
	require.NoError(t, err)

	failed, err := s.Fail(ctx, job.ID, apperr.PermanentBackend, "boom")
	require.NoError(t, err)
	require.Equal(t, types.JobFailed, failed.State)
	require.Equal(t, "boom", failed.ErrorMessage)
}

func TestCancelQueued(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	job, err := s.Submit(ctx, "acme", "t", nil)
	require.NoError(t, err)

	cancelled, err := s.Cancel(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobCancelled, cancelled.State)
}

func TestCancelRunningFails(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	job, err := s.Submit(ctx, "acme", "t", nil)
	require.NoError(t, err)
	_, err = s.Claim(ctx, job.ID, "w1")
	require.NoError(t, err)

	_, err = s.Cancel(ctx, job.ID)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestSucceedIsIdempotentOnRepeat(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	job, err := s.Submit(ctx, "acme", "t", nil)
	require.NoError(t, err)
	_, err = s.Claim(ctx, job.ID, "w1")
	require.NoError(t, err)
	_, err = s.Succeed(ctx, job.ID, "r1")
	require.NoError(t, err)

	// Repeating the same terminal write is idempotent, not an error.
	again, err := s.Succeed(ctx, job.ID, "r1")
	require.NoError(t, err)
	require.Equal(t, types.JobSucceeded, again.State)
}

func TestListFiltersByTenantAndState(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Submit(ctx, "acme", "t", nil)
	require.NoError(t, err)
	_, err = s.Submit(ctx, "other-tenant", "t", nil)
	require.NoError(t, err)

	jobs, err := s.List(ctx, "acme", "", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "acme", jobs[0].TenantID)
}

func TestSubmitRejectsInvalidTenant(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Submit(ctx, "bad tenant!", "t", nil)
	require.Error(t, err)
}
