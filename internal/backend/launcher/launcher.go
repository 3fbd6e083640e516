// Package launcher defines the task-launch primitive the tasklaunch
// executor strategy adapts to: submit a unit of work to an external
// runner (a subprocess pool, a container scheduler, a remote agent
// fleet) and later poll or wait for its terminal state. It is
// deliberately decoupled from the workflow/job vocabulary above it, the
// way the teacher's Agent interface decouples "run a coding agent" from
// "manage a task queue".
package launcher

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a handle is unknown to the launcher.
var ErrNotFound = errors.New("launcher: handle not found")

// LaunchStatus is the lifecycle of one launched unit.
type LaunchStatus string

const (
	LaunchPending   LaunchStatus = "pending"
	LaunchRunning   LaunchStatus = "running"
	LaunchSucceeded LaunchStatus = "succeeded"
	LaunchFailed    LaunchStatus = "failed"
	LaunchCancelled LaunchStatus = "cancelled"
)

func (s LaunchStatus) Terminal() bool {
	switch s {
	case LaunchSucceeded, LaunchFailed, LaunchCancelled:
		return true
	default:
		return false
	}
}

// LaunchSpec describes one unit of work to hand to the launcher.
type LaunchSpec struct {
	// AgentType selects the runner (e.g. "claude", "codex"); validated
	// against internal/identifier before it ever reaches a launcher
	// implementation.
	AgentType string
	// WorkDir is the directory the launched process should run in.
	WorkDir string
	// Prompt is the task body handed to the agent.
	Prompt string
	// Env is additional environment passed to the launched process,
	// already validated by the caller.
	Env map[string]string
	// Timeout bounds the launch; zero means the launcher's default.
	Timeout time.Duration
}

// LaunchResult is the terminal outcome of one launch.
type LaunchResult struct {
	Status     LaunchStatus
	ResultText string
	// BlobKey, if set, names the blob.Store key holding the full
	// transcript or structured result body.
	BlobKey string
	ErrorMessage string
	DurationMs int64
}

// Handle identifies one in-flight or completed launch.
type Handle string

// Launcher submits work to an external runner and reports on it later.
// Implementations may be a local subprocess pool or a remote scheduler
// (simlauncher is the in-memory one; executor/tasklaunch adapts any
// Launcher to executor.Strategy); the interface makes no assumption
// about locality.
type Launcher interface {
	// Launch starts spec and returns a handle immediately; it does not
	// block until completion.
	Launch(ctx context.Context, spec LaunchSpec) (Handle, error)

	// Poll returns the current status and, once terminal, the result.
	Poll(ctx context.Context, handle Handle) (LaunchResult, error)

	// Wait blocks until handle reaches a terminal status or ctx is
	// done, whichever comes first.
	Wait(ctx context.Context, handle Handle) (LaunchResult, error)

	// Cancel requests early termination of a running launch. Canceling
	// an already-terminal handle is not an error.
	Cancel(ctx context.Context, handle Handle) error
}
