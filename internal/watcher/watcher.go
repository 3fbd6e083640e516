// Package watcher implements the two-tier liveness monitor that keeps
// a swarm run moving without paying for deep inspection on every
// tick, grounded on other_examples/Jawbreaker1-CodeHackBot__coordinator.go's
// Tick() polling loop: tier 1 runs a bounded, rule-based decision set
// cheaply and often; tier 2 is only invoked once tier 1 leaves an
// escalation signal file behind, matching the teacher pack's
// signal-file handoff rather than a shared in-memory channel so the
// two tiers can run as separate processes.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/toseekandfind/multi-agent-sandbox/internal/blackboard"
	"github.com/toseekandfind/multi-agent-sandbox/pkg/types"
)

// Decision is tier 1's bounded output.
type Decision string

const (
	DecisionNominal            Decision = "nominal"
	DecisionWarning            Decision = "warning"
	DecisionInterventionNeeded Decision = "intervention_needed"
	DecisionComplete           Decision = "complete"
)

// Exit codes a CLI watch loop maps Decision onto, per spec.md's
// "terminate with status code escalate/done" wording.
const (
	ExitDone     = 0
	ExitEscalate = 3
)

// EscalationSignal is the only channel from tier 1 to tier 2: a
// plain-text-adjacent JSON document written exclusively so tier 2
// never races a concurrent tier-1 poll into overwriting it.
type EscalationSignal struct {
	ID             string    `json:"id"`
	RunID          string    `json:"run_id"`
	Reason         string    `json:"reason"`
	CreatedAt      time.Time `json:"created_at"`
	StaleAgents    []string  `json:"stale_agents,omitempty"`
	ErrorExcerpts  []string  `json:"error_excerpts,omitempty"`
	RecentLogLines []string  `json:"recent_log_lines,omitempty"`
}

// errorKeywords are scanned, case-insensitively, against the tail of a
// run's coordination log.
var errorKeywords = []string{"panic", "fatal", "error:", "deadlock", "conflict", "ambiguous", "traceback"}

// Options tunes Tier1.
type Options struct {
	PollInterval     time.Duration
	HeartbeatTimeout time.Duration
	LogTailLines     int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 120 * time.Second
	}
	if o.LogTailLines <= 0 {
		o.LogTailLines = 10
	}
	return o
}

// Tier1 is the cheap polling loop. It never mutates blackboard agent
// state; only Tier2 does.
type Tier1 struct {
	boards    *blackboard.Manager
	signalDir string
	log       *slog.Logger
	opts      Options
}

// NewTier1 returns a Tier1 that escalates into signalDir.
func NewTier1(boards *blackboard.Manager, signalDir string, log *slog.Logger, opts Options) (*Tier1, error) {
	if err := os.MkdirAll(signalDir, 0o755); err != nil {
		return nil, fmt.Errorf("watcher: mkdir signal dir: %w", err)
	}
	return &Tier1{boards: boards, signalDir: signalDir, log: log, opts: opts.withDefaults()}, nil
}

func (t *Tier1) signalPath(runID string) string {
	return filepath.Join(t.signalDir, runID+".escalation.json")
}

// HasSignal reports whether an escalation is already outstanding for
// runID, tier 1's "clear to resume" check.
func (t *Tier1) HasSignal(runID string) bool {
	_, err := os.Stat(t.signalPath(runID))
	return err == nil
}

// Poll runs one tier-1 tick against runID's blackboard and log tail,
// returning the decision and, for intervention_needed, the signal it
// wrote; the signal is nil when one was already outstanding.
func (t *Tier1) Poll(runID string, logTail []string) (Decision, *EscalationSignal, error) {
	if t.HasSignal(runID) {
		// A prior escalation hasn't been cleared by tier 2 yet; keep
		// reporting intervention_needed without writing a second signal.
		return DecisionInterventionNeeded, nil, nil
	}

	board, err := t.boards.Open(runID)
	if err != nil {
		return "", nil, err
	}
	doc, err := board.Snapshot()
	if err != nil {
		return "", nil, err
	}

	now := time.Now()
	var stale []string
	activeCount, completedCount := 0, 0
	for id, agent := range doc.Agents {
		switch agent.State {
		case types.AgentCompleted:
			completedCount++
		case types.AgentActive:
			activeCount++
			if now.Sub(agent.HeartbeatAt) > t.opts.HeartbeatTimeout {
				stale = append(stale, id)
			}
		}
	}

	tail := tailLines(logTail, t.opts.LogTailLines)
	errorExcerpts := matchKeywords(tail, errorKeywords)

	t.log.Info("watcher tier1 tick", "run_id", runID, "active", activeCount, "completed", completedCount, "stale", len(stale))

	if len(stale) > 0 || len(errorExcerpts) > 0 {
		reason := "stale agents detected"
		if len(errorExcerpts) > 0 {
			reason = "error keyword in coordination log"
		}
		signal := &EscalationSignal{
			Reason: reason, RunID: runID, CreatedAt: now,
			StaleAgents: stale, ErrorExcerpts: errorExcerpts, RecentLogLines: tail,
		}
		if err := t.writeSignal(runID, signal); err != nil {
			return "", nil, err
		}
		return DecisionInterventionNeeded, signal, nil
	}

	if activeCount == 0 && completedCount > 0 && !hasUnclaimedTasks(doc) {
		return DecisionComplete, nil, nil
	}
	if activeCount == 0 && completedCount == 0 {
		return DecisionWarning, nil, nil
	}
	return DecisionNominal, nil, nil
}

func hasUnclaimedTasks(doc *types.Blackboard) bool {
	for _, item := range doc.TaskQueue {
		if item.ClaimedBy == "" {
			return true
		}
	}
	return false
}

// writeSignal exclusively creates the escalation file, matching
// spec.md's "created exclusively (fails if one exists)" contract. A
// concurrent creation loses the race harmlessly: the loser's caller
// already treats DecisionInterventionNeeded as outstanding either way.
func (t *Tier1) writeSignal(runID string, signal *EscalationSignal) error {
	signal.ID = fmt.Sprintf("esc-%s-%d", runID, signal.CreatedAt.UnixNano())
	body, err := json.MarshalIndent(signal, "", "  ")
	if err != nil {
		return fmt.Errorf("watcher: encode signal: %w", err)
	}
	f, err := os.OpenFile(t.signalPath(runID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("watcher: create signal: %w", err)
	}
	defer f.Close()
	_, err = f.Write(body)
	return err
}

// Watch runs Poll on PollInterval until ctx is cancelled or a terminal
// decision (complete or intervention_needed) is reached. logTail is
// called fresh on every tick so callers can source it from wherever
// their executor writes coordination logs.
func (t *Tier1) Watch(ctx context.Context, runID string, logTail func() []string) (Decision, error) {
	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()
	for {
		decision, _, err := t.Poll(runID, logTail())
		if err != nil {
			return "", err
		}
		if decision == DecisionComplete || decision == DecisionInterventionNeeded {
			return decision, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func tailLines(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

func matchKeywords(lines []string, keywords []string) []string {
	var matches []string
	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				matches = append(matches, line)
				break
			}
		}
	}
	return matches
}
