// Package jobstore is the durable record of jobs submitted to the
// dispatch engine, layered on top of backend/store the way the
// teacher's internal/db layers task rows on top of *sql.DB. All state
// transitions go through CompareAndSwap so a redelivered message and a
// racing reconciler can never both win a transition.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/toseekandfind/multi-agent-sandbox/internal/apperr"
	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/store"
	"github.com/toseekandfind/multi-agent-sandbox/internal/identifier"
	"github.com/toseekandfind/multi-agent-sandbox/pkg/types"
)

const collection = "jobs"

// Store is the job store's storage-facing interface.
type Store struct {
	backing store.Store
}

// New wraps backing as a job Store.
func New(backing store.Store) *Store {
	return &Store{backing: backing}
}

type envelope struct {
	Job     types.Job `json:"job"`
	Version int64     `json:"-"`
}

// Submit creates a new job in state QUEUED. jobType and tenantID are
// validated identifiers.
func (s *Store) Submit(ctx context.Context, tenantID, jobType string, payload []byte) (types.Job, error) {
	if _, err := identifier.Validate(tenantID, identifier.Tenant); err != nil {
		return types.Job{}, apperr.Wrap(apperr.Validation, "invalid tenant id", err)
	}
	now := time.Now()
	job := types.Job{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Type:      jobType,
		Payload:   payload,
		State:     types.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	body, err := json.Marshal(job)
	if err != nil {
		return types.Job{}, fmt.Errorf("jobstore: encode: %w", err)
	}
	if _, err := s.backing.CompareAndSwap(ctx, collection, job.ID, 0, body); err != nil {
		return types.Job{}, fmt.Errorf("jobstore: submit: %w", err)
	}
	return job, nil
}

// Get returns the job by id.
func (s *Store) Get(ctx context.Context, id string) (types.Job, error) {
	job, _, err := s.getWithVersion(ctx, id)
	return job, err
}

func (s *Store) getWithVersion(ctx context.Context, id string) (types.Job, int64, error) {
	rec, err := s.backing.Get(ctx, collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return types.Job{}, 0, apperr.New(apperr.NotFound, "job not found: "+id)
	}
	if err != nil {
		return types.Job{}, 0, fmt.Errorf("jobstore: get: %w", err)
	}
	var job types.Job
	if err := json.Unmarshal(rec.Value, &job); err != nil {
		return types.Job{}, 0, fmt.Errorf("jobstore: decode: %w", err)
	}
	return job, rec.Version, nil
}

// List returns jobs for tenantID, optionally filtered by state, newest
// key first is not guaranteed; callers needing order should sort on
// CreatedAt.
func (s *Store) List(ctx context.Context, tenantID string, state types.JobState, limit int) ([]types.Job, error) {
	res, err := s.backing.List(ctx, store.ListOptions{Collection: collection, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("jobstore: list: %w", err)
	}
	var out []types.Job
	for _, rec := range res.Records {
		var job types.Job
		if err := json.Unmarshal(rec.Value, &job); err != nil {
			continue
		}
		if job.TenantID != tenantID {
			continue
		}
		if state != "" && job.State != state {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

// ErrIllegalTransition is returned when the requested state change violates
// the job lifecycle's allowed-transition table.
var ErrIllegalTransition = errors.New("jobstore: illegal state transition")

// Claim atomically transitions a job from QUEUED to RUNNING, recording
// workerID. It fails with ErrIllegalTransition if the job is not
// currently QUEUED (e.g. it was already claimed, or cancelled).
func (s *Store) Claim(ctx context.Context, id, workerID string) (types.Job, error) {
	return s.transition(ctx, id, types.JobRunning, func(job *types.Job) {
		job.WorkerID = workerID
	})
}

// Succeed atomically transitions a job from RUNNING to SUCCEEDED.
func (s *Store) Succeed(ctx context.Context, id, resultPointer string) (types.Job, error) {
	return s.transition(ctx, id, types.JobSucceeded, func(job *types.Job) {
		job.ResultPointer = resultPointer
	})
}

// Fail atomically transitions a job from RUNNING to FAILED. Failing is
// terminal: the dispatch engine never retries in-loop, callers resubmit
// explicitly if they want another attempt.
func (s *Store) Fail(ctx context.Context, id string, errKind apperr.Kind, errMessage string) (types.Job, error) {
	return s.transition(ctx, id, types.JobFailed, func(job *types.Job) {
		job.ErrorKind = string(errKind)
		job.ErrorMessage = errMessage
	})
}

// Cancel atomically transitions a job from QUEUED to CANCELLED. A job
// already RUNNING cannot be cancelled through this path; the dispatch
// engine only cancels a running Execute when its own context ends.
func (s *Store) Cancel(ctx context.Context, id string) (types.Job, error) {
	return s.transition(ctx, id, types.JobCancelled, nil)
}

// transition retries the read-modify-CAS loop once on a version
// conflict raised by a concurrent transition attempt (the loser simply
// observes the winner's new state and re-validates against it), the
// same optimistic-retry shape the teacher's claim loop degrades to
// under contention.
func (s *Store) transition(ctx context.Context, id string, to types.JobState, mutate func(*types.Job)) (types.Job, error) {
	for attempt := 0; attempt < 2; attempt++ {
		job, version, err := s.getWithVersion(ctx, id)
		if err != nil {
			return types.Job{}, err
		}
		if !types.CanTransition(job.State, to) {
			if job.State.Terminal() {
				// Idempotent terminal write: re-requesting the same
				// terminal state that is already recorded is not an error.
				if job.State == to {
					return job, nil
				}
			}
			return types.Job{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, job.State, to)
		}

		job.State = to
		job.UpdatedAt = time.Now()
		if mutate != nil {
			mutate(&job)
		}

		body, err := json.Marshal(job)
		if err != nil {
			return types.Job{}, fmt.Errorf("jobstore: encode: %w", err)
		}
		if _, err := s.backing.CompareAndSwap(ctx, collection, id, version, body); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue // another writer won the race; re-read and re-check
			}
			return types.Job{}, fmt.Errorf("jobstore: transition: %w", err)
		}
		return job, nil
	}
	return types.Job{}, fmt.Errorf("jobstore: transition: exhausted retries under contention on %s", id)
}
