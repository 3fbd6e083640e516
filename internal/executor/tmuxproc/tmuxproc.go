// Package tmuxproc is the Strategy implementation that runs a job's
// agent inside a detached tmux session, generalizing the teacher's
// worker/executor.go subprocess pattern (heartbeat goroutine, dual
// stdout/stderr capture, backpressure signal detection) from "shell out
// to the claude CLI directly" to "launch inside tmux so a stalled agent
// can be attached to and inspected live".
package tmuxproc

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/toseekandfind/multi-agent-sandbox/internal/apperr"
	"github.com/toseekandfind/multi-agent-sandbox/internal/executor"
	"github.com/toseekandfind/multi-agent-sandbox/internal/identifier"
)

// Options configures the strategy.
type Options struct {
	// TmuxBinary is the path to the tmux executable, defaulting to "tmux".
	TmuxBinary string
	// AgentBinaryPath is the command run inside the tmux pane.
	AgentBinaryPath string
	// PollInterval controls how often the result file is checked.
	PollInterval time.Duration
	// HeartbeatInterval controls how often a liveness heartbeat is emitted.
	HeartbeatInterval time.Duration
}

// Strategy launches one tmux session per job and polls a result file
// written by the agent process on completion.
type Strategy struct {
	opts Options
}

// New returns a Strategy, filling unset Options with defaults.
func New(opts Options) *Strategy {
	if opts.TmuxBinary == "" {
		opts.TmuxBinary = "tmux"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	return &Strategy{opts: opts}
}

var _ executor.Strategy = (*Strategy)(nil)

func (s *Strategy) Name() string { return "tmuxproc" }

// transientMarkers are checked against captured output the same way the
// teacher's detectSignal scans for rate-limit and API-error markers,
// classified here into apperr.TransientBackend so the dispatch engine's
// bounded backoff can retry it.
var transientMarkers = []string{
	"rate limit", "429", "overloaded", "temporarily unavailable", "connection reset",
}

// Execute launches req.Payload's prompt in a uniquely named tmux
// session, writes it to a prompt file, and polls a result file the
// agent process is expected to write on exit.
func (s *Strategy) Execute(ctx context.Context, req executor.Request) (executor.Result, error) {
	sessionName, err := identifier.Derive(identifier.Run, "job-%s", shortID(req.JobID))
	if err != nil {
		return executor.Result{}, apperr.Wrap(apperr.Validation, "tmux session name", err)
	}

	promptPath := filepath.Join(req.WorkDir, "prompt.txt")
	resultPath := filepath.Join(req.WorkDir, "result.json")

	if err := os.WriteFile(promptPath, req.Payload, 0o644); err != nil {
		return executor.Result{}, apperr.Wrap(apperr.Handler, "write prompt file", err)
	}

	agentBin := s.opts.AgentBinaryPath
	if agentBin == "" {
		agentBin = "claude"
	}
	innerCmd := fmt.Sprintf(
		"%s --prompt-file %s > %s.log 2>&1; echo done > %s.done",
		shellQuote(agentBin), shellQuote(promptPath), shellQuote(resultPath), shellQuote(resultPath),
	)

	newSession := exec.CommandContext(ctx, s.opts.TmuxBinary,
		"new-session", "-d", "-s", sessionName, innerCmd)
	var stderr bytes.Buffer
	newSession.Stderr = &stderr
	if err := newSession.Run(); err != nil {
		return executor.Result{}, apperr.Wrap(apperr.TransientBackend,
			fmt.Sprintf("start tmux session: %s", stderr.String()), err)
	}
	defer s.killSession(sessionName)

	return s.waitForCompletion(ctx, sessionName, resultPath)
}

func (s *Strategy) waitForCompletion(ctx context.Context, sessionName, resultPath string) (executor.Result, error) {
	heartbeat := time.NewTicker(s.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()

	donePath := resultPath + ".done"
	logPath := resultPath + ".log"

	for {
		select {
		case <-ctx.Done():
			return executor.Result{}, apperr.Wrap(apperr.Timeout, "tmux job cancelled or timed out", ctx.Err())

		case <-heartbeat.C:
			if !s.sessionAlive(sessionName) {
				return s.readOutcome(logPath, donePath)
			}

		case <-poll.C:
			if _, err := os.Stat(donePath); err == nil {
				return s.readOutcome(logPath, donePath)
			}
		}
	}
}

func (s *Strategy) readOutcome(logPath, donePath string) (executor.Result, error) {
	body, err := os.ReadFile(logPath)
	if err != nil && !os.IsNotExist(err) {
		return executor.Result{}, apperr.Wrap(apperr.Handler, "read tmux job log", err)
	}
	text := string(body)

	for _, marker := range transientMarkers {
		if strings.Contains(strings.ToLower(text), marker) {
			return executor.Result{}, apperr.New(apperr.TransientBackend,
				fmt.Sprintf("agent output signals a transient backend condition: %q", marker))
		}
	}

	if _, err := os.Stat(donePath); err != nil {
		return executor.Result{}, apperr.New(apperr.PermanentBackend, "tmux session exited without writing a result")
	}

	return executor.Result{ResultText: text}, nil
}

func (s *Strategy) sessionAlive(name string) bool {
	cmd := exec.Command(s.opts.TmuxBinary, "has-session", "-t", name)
	return cmd.Run() == nil
}

func (s *Strategy) killSession(name string) {
	_ = exec.Command(s.opts.TmuxBinary, "kill-session", "-t", name).Run()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
