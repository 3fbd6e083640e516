// Package inprocess is the Strategy implementation for job bodies that
// run as plain Go functions inside the dispatch engine's own process,
// grounded on the teacher's dbos_workflow.go step functions but without
// the durable-workflow machinery: a handler here is just a function of
// (ctx, payload) rather than a registered DBOS step.
package inprocess

import (
	"context"
	"fmt"

	"github.com/toseekandfind/multi-agent-sandbox/internal/executor"
)

// Handler runs one job's payload in-process and returns its result.
type Handler func(ctx context.Context, req executor.Request) (executor.Result, error)

// Strategy dispatches to a Handler registered for the job's type.
// One Strategy instance can serve multiple job types.
type Strategy struct {
	handlers map[string]Handler
}

// New returns a Strategy with no handlers registered.
func New() *Strategy {
	return &Strategy{handlers: make(map[string]Handler)}
}

var _ executor.Strategy = (*Strategy)(nil)

// Handle registers fn to run jobs of jobType.
func (s *Strategy) Handle(jobType string, fn Handler) {
	s.handlers[jobType] = fn
}

func (s *Strategy) Name() string { return "inprocess" }

func (s *Strategy) Execute(ctx context.Context, req executor.Request) (executor.Result, error) {
	fn, ok := s.handlers[req.JobType]
	if !ok {
		return executor.Result{}, fmt.Errorf("inprocess: no handler registered for job type %q", req.JobType)
	}
	return fn(ctx, req)
}
