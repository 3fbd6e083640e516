// Package types defines the wire/persistence data structures shared
// across the orchestrator: jobs, workflow definitions, runs, node
// executions, trails, and blackboard records. Mirrors the shape of the
// teacher's pkg/types.Task but generalized to the multi-tenant job model.
package types

import "time"

// JobState is the job lifecycle enum. Transitions are constrained to
// QUEUED -> RUNNING -> {SUCCEEDED, FAILED} or QUEUED -> CANCELLED.
type JobState string

const (
	JobQueued    JobState = "QUEUED"
	JobRunning   JobState = "RUNNING"
	JobSucceeded JobState = "SUCCEEDED"
	JobFailed    JobState = "FAILED"
	JobCancelled JobState = "CANCELLED"
)

// Terminal reports whether the state has no further outgoing transitions.
func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// allowedTransitions enumerates every legal JobState arrow. A job never
// observes a "downgrade" outside this table.
var allowedTransitions = map[JobState]map[JobState]bool{
	JobQueued:  {JobRunning: true, JobCancelled: true},
	JobRunning: {JobSucceeded: true, JobFailed: true},
}

// CanTransition reports whether from -> to is a legal arrow.
func CanTransition(from, to JobState) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Job is a durable job record keyed by ID and scoped to a tenant.
type Job struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	Type          string          `json:"type"`
	Payload       []byte          `json:"payload"`
	State         JobState        `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ResultPointer string          `json:"result_pointer,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	WorkerID      string          `json:"worker_id,omitempty"`
}

// EnqueueMessage is the minimal envelope placed on the queue primitive;
// the job record itself carries the payload.
type EnqueueMessage struct {
	JobID string `json:"job_id"`
}
