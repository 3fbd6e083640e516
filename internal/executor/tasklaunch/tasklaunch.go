// Package tasklaunch is the Strategy implementation that delegates
// execution to a launcher.Launcher, generalizing the teacher's DBOS
// per-task workflow (create worktree, execute agent, commit, merge,
// each a durable dbos.RunAsStep) into launch/poll against an external
// task-launch API instead of DBOS's step machinery.
package tasklaunch

import (
	"context"
	"fmt"

	"github.com/toseekandfind/multi-agent-sandbox/internal/apperr"
	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/launcher"
	"github.com/toseekandfind/multi-agent-sandbox/internal/executor"
	"github.com/toseekandfind/multi-agent-sandbox/internal/identifier"
)

// Strategy adapts a launcher.Launcher to the executor.Strategy contract.
type Strategy struct {
	launcher  launcher.Launcher
	agentType string
}

// New returns a Strategy that launches every job as agentType.
func New(l launcher.Launcher, agentType string) *Strategy {
	return &Strategy{launcher: l, agentType: agentType}
}

var _ executor.Strategy = (*Strategy)(nil)

func (s *Strategy) Name() string { return "tasklaunch" }

func (s *Strategy) Execute(ctx context.Context, req executor.Request) (executor.Result, error) {
	if _, err := identifier.Validate(s.agentType, identifier.AgentType); err != nil {
		return executor.Result{}, apperr.Wrap(apperr.Validation, "agent type", err)
	}
	handle, err := s.launcher.Launch(ctx, launcher.LaunchSpec{
		AgentType: s.agentType,
		WorkDir:   req.WorkDir,
		Prompt:    string(req.Payload),
		Env: map[string]string{
			"JOB_ID":    req.JobID,
			"TENANT_ID": req.TenantID,
		},
	})
	if err != nil {
		return executor.Result{}, apperr.Wrap(apperr.TransientBackend, "launch task", err)
	}

	res, err := s.launcher.Wait(ctx, handle)
	if err != nil {
		return executor.Result{}, apperr.Wrap(apperr.Timeout, "wait for launched task", err)
	}

	switch res.Status {
	case launcher.LaunchSucceeded:
		return executor.Result{ResultText: res.ResultText, ResultPointer: res.BlobKey}, nil
	case launcher.LaunchCancelled:
		return executor.Result{}, apperr.New(apperr.Timeout, "launched task was cancelled")
	default:
		return executor.Result{}, apperr.New(apperr.PermanentBackend,
			fmt.Sprintf("launched task failed: %s", res.ErrorMessage))
	}
}
