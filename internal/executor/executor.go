// Package executor defines the strategy contract the dispatch engine
// invokes to actually run a job's work, generalizing the teacher's
// executor/agent.go Agent interface from "run one coding agent" to "run
// one job body, however that body chooses to execute". Three concrete
// strategies live in the inprocess, tmuxproc, and tasklaunch
// subpackages.
package executor

import (
	"context"
)

// Request is everything a Strategy needs to execute one job.
type Request struct {
	JobID    string
	TenantID string
	JobType  string
	Payload  []byte
	// WorkDir is a pre-created, job-scoped directory (see
	// internal/workspace) the strategy may use for scratch files.
	WorkDir string
}

// Result is the outcome of one execution attempt.
type Result struct {
	// ResultPointer names where the full result body lives (a blob key
	// or inline reference), left empty when ResultText is sufficient.
	ResultPointer string
	ResultText    string
}

// Strategy executes one job body to completion or failure. Execute
// must respect ctx cancellation: the dispatch engine cancels it when
// the engine's own context is cancelled (shutdown). A lapsed visibility
// timeout or a job-level cancel does not cancel an Execute already in
// progress.
type Strategy interface {
	// Execute runs req and returns its result, or an error classified
	// via internal/apperr (TransientBackend errors are retried by the
	// dispatch engine's bounded backoff; anything else is terminal).
	Execute(ctx context.Context, req Request) (Result, error)

	// Name identifies the strategy for logging and job-type routing.
	Name() string
}

// Registry maps a job type to the Strategy that executes it.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register binds jobType to strategy. A later call for the same
// jobType overwrites the earlier binding.
func (r *Registry) Register(jobType string, strategy Strategy) {
	r.strategies[jobType] = strategy
}

// Lookup returns the strategy bound to jobType, or ok=false.
func (r *Registry) Lookup(jobType string) (Strategy, bool) {
	s, ok := r.strategies[jobType]
	return s, ok
}
