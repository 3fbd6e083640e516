// Package simlauncher is an in-memory launcher.Launcher used in tests
// and local development in place of a real external task-launch API.
// Each launch runs a caller-supplied function in its own goroutine.
package simlauncher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/launcher"
)

// Run is what a simulated launch actually does. It should respect ctx
// cancellation.
type Run func(ctx context.Context, spec launcher.LaunchSpec) (launcher.LaunchResult, error)

// Launcher is a launcher.Launcher backed by in-process goroutines.
type Launcher struct {
	run Run

	mu      sync.Mutex
	entries map[launcher.Handle]*entry
}

type entry struct {
	cancel context.CancelFunc
	done   chan struct{}
	result launcher.LaunchResult
	status launcher.LaunchStatus
}

// New returns a Launcher that executes every launch by calling run.
func New(run Run) *Launcher {
	return &Launcher{run: run, entries: make(map[launcher.Handle]*entry)}
}

var _ launcher.Launcher = (*Launcher)(nil)

func (l *Launcher) Launch(ctx context.Context, spec launcher.LaunchSpec) (launcher.Handle, error) {
	handle := launcher.Handle(uuid.NewString())
	runCtx, cancel := context.WithCancel(context.Background())
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, spec.Timeout)
	}

	e := &entry{cancel: cancel, done: make(chan struct{}), status: launcher.LaunchRunning}
	l.mu.Lock()
	l.entries[handle] = e
	l.mu.Unlock()

	go func() {
		defer close(e.done)
		started := time.Now()
		res, err := l.run(runCtx, spec)
		res.DurationMs = time.Since(started).Milliseconds()

		l.mu.Lock()
		defer l.mu.Unlock()
		if err != nil {
			e.status = launcher.LaunchFailed
			e.result = launcher.LaunchResult{Status: launcher.LaunchFailed, ErrorMessage: err.Error(), DurationMs: res.DurationMs}
			return
		}
		if res.Status == "" {
			res.Status = launcher.LaunchSucceeded
		}
		e.status = res.Status
		e.result = res
	}()

	return handle, nil
}

func (l *Launcher) Poll(_ context.Context, handle launcher.Handle) (launcher.LaunchResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[handle]
	if !ok {
		return launcher.LaunchResult{}, launcher.ErrNotFound
	}
	if e.status == launcher.LaunchRunning {
		return launcher.LaunchResult{Status: launcher.LaunchRunning}, nil
	}
	return e.result, nil
}

func (l *Launcher) Wait(ctx context.Context, handle launcher.Handle) (launcher.LaunchResult, error) {
	l.mu.Lock()
	e, ok := l.entries[handle]
	l.mu.Unlock()
	if !ok {
		return launcher.LaunchResult{}, launcher.ErrNotFound
	}

	select {
	case <-e.done:
		l.mu.Lock()
		defer l.mu.Unlock()
		return e.result, nil
	case <-ctx.Done():
		return launcher.LaunchResult{}, fmt.Errorf("simlauncher: wait: %w", ctx.Err())
	}
}

func (l *Launcher) Cancel(_ context.Context, handle launcher.Handle) error {
	l.mu.Lock()
	e, ok := l.entries[handle]
	l.mu.Unlock()
	if !ok {
		return nil
	}
	e.cancel()
	return nil
}
