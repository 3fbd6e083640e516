package watcher

import (
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

// EscalationDecision is tier 2's bounded output.
type EscalationDecision string

const (
	DecisionReassign      EscalationDecision = "reassign"
	DecisionRestart       EscalationDecision = "restart"
	DecisionAbort         EscalationDecision = "abort"
	DecisionSynthesize    EscalationDecision = "synthesize"
	DecisionEscalateHuman EscalationDecision = "escalate_human"
)

// abortFailureThreshold is spec.md's "multiple-failure threshold
// exceeded (e.g., ≥3 failed agents)".
const abortFailureThreshold = 3

var conflictKeywords = []string{"deadlock", "conflict", "ambiguous"}

// DecisionRecord is the durable audit trail tier 2 leaves behind,
// separate from the blackboard document itself since it is
// operator-facing rather than agent-facing.
type DecisionRecord struct {
	RunID      string             `json:"run_id"`
	SignalID   string             `json:"signal_id"`
	Decision   EscalationDecision `json:"decision"`
	Reason     string             `json:"reason"`
	DecidedAt  time.Time          `json:"decided_at"`
	ActedOn    []string           `json:"acted_on,omitempty"`
}

// Tier2 is the escalation handler, activated only once a Tier1 signal
// exists. It is the only party allowed to mutate blackboard agent
// state.
type Tier2 struct {
	boards    *blackboard.Manager
	signalDir string
	log       *slog.Logger
}

// NewTier2 returns a Tier2 sharing the same signal directory as the
// Tier1 it complements.
func NewTier2(boards *blackboard.Manager, signalDir string, log *slog.Logger) *Tier2 {
	return &Tier2{boards: boards, signalDir: signalDir, log: log}
}

func (t *Tier2) signalPath(runID string) string {
	return filepath.Join(t.signalDir, runID+".escalation.json")
}

func (t *Tier2) recordPath(runID string) string {
	return filepath.Join(t.signalDir, runID+".decisions.jsonl")
}

// ReadSignal loads the outstanding escalation signal for runID, or
// returns os.ErrNotExist wrapped if tier 1 has nothing outstanding.
func (t *Tier2) ReadSignal(runID string) (*EscalationSignal, error) {
	body, err := os.ReadFile(t.signalPath(runID))
	if err != nil {
		return nil, fmt.Errorf("watcher: read signal: %w", err)
	}
	var signal EscalationSignal
	if err := json.Unmarshal(body, &signal); err != nil {
		return nil, fmt.Errorf("watcher: decode signal: %w", err)
	}
	return &signal, nil
}

// Handle reads runID's outstanding signal, decides exactly one
// EscalationDecision, executes it against the blackboard, writes a
// decision record, and archives the signal so Tier1 resumes polling.
func (t *Tier2) Handle(runID string) (EscalationDecision, error) {
	signal, err := t.ReadSignal(runID)
	if err != nil {
		return "", err
	}

	board, err := t.boards.Open(runID)
	if err != nil {
		return "", err
	}
	doc, err := board.Snapshot()
	if err != nil {
		return "", err
	}

	decision := decide(signal, doc)
	actedOn, err := t.execute(board, doc, decision, signal)
	if err != nil {
		return "", err
	}

	if err := t.appendRecord(runID, DecisionRecord{
		RunID: runID, SignalID: signal.ID, Decision: decision,
		Reason: signal.Reason, DecidedAt: time.Now(), ActedOn: actedOn,
	}); err != nil {
		return "", err
	}

	t.log.Info("watcher tier2 decision", "run_id", runID, "decision", decision, "acted_on", actedOn)

	if err := os.Remove(t.signalPath(runID)); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("watcher: archive signal: %w", err)
	}
	return decision, nil
}

// decide applies spec.md's priority-ordered heuristics. Stuck/timeout
// wins over everything else. The run-wide failure threshold is
// checked ahead of the per-agent synthesize/reassign branches even
// though spec.md lists it after them in prose: once 3+ agents have
// already failed, routing around them one at a time defeats the
// point of a threshold abort, so a breach short-circuits further
// single-agent recovery. Below the threshold, partial-output failures
// synthesize, output-less failures reassign, unresolved
// conflict/ambiguity language escalates to a human, and anything left
// over defaults to synthesize.
func decide(signal *EscalationSignal, doc *types.Blackboard) EscalationDecision {
	if len(signal.StaleAgents) > 0 {
		return DecisionRestart
	}

	var withOutput, withoutOutput, failedTotal int
	for id, agent := range doc.Agents {
		if agent.State != types.AgentFailed {
			continue
		}
		failedTotal++
		if agentHasFindings(doc, id) {
			withOutput++
		} else {
			withoutOutput++
		}
	}
	if failedTotal >= abortFailureThreshold {
		return DecisionAbort
	}
	if withOutput > 0 {
		return DecisionSynthesize
	}
	if withoutOutput > 0 {
		return DecisionReassign
	}
	if containsConflictLanguage(signal.ErrorExcerpts) {
		return DecisionEscalateHuman
	}
	return DecisionSynthesize
}

func agentHasFindings(doc *types.Blackboard, agentID string) bool {
	for _, f := range doc.Findings {
		if f.AgentID == agentID {
			return true
		}
	}
	return false
}

func containsConflictLanguage(lines []string) bool {
	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, kw := range conflictKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

// execute mutates the blackboard per decision and returns the agent
// IDs it acted on.
func (t *Tier2) execute(board *blackboard.Board, doc *types.Blackboard, decision EscalationDecision, signal *EscalationSignal) ([]string, error) {
	switch decision {
	case DecisionRestart:
		for _, id := range signal.StaleAgents {
			if err := board.Reactivate(id); err != nil {
				return nil, err
			}
		}
		return signal.StaleAgents, nil

	case DecisionSynthesize:
		var acted []string
		for id, agent := range doc.Agents {
			if agent.State != types.AgentFailed || !agentHasFindings(doc, id) {
				continue
			}
			if _, err := board.EnqueueTask(fmt.Sprintf("synthesize partial findings from agent %s (task: %s)", id, agent.Task)); err != nil {
				return nil, err
			}
			acted = append(acted, id)
		}
		return acted, nil

	case DecisionReassign:
		var acted []string
		for id, agent := range doc.Agents {
			if agent.State != types.AgentFailed || agentHasFindings(doc, id) {
				continue
			}
			if _, err := board.EnqueueTask(agent.Task); err != nil {
				return nil, err
			}
			acted = append(acted, id)
		}
		return acted, nil

	case DecisionAbort, DecisionEscalateHuman:
		// No blackboard mutation: the caller (dispatch/conductor
		// surface) is responsible for terminating the run once it
		// observes this decision in the record log.
		return nil, nil
	}
	return nil, fmt.Errorf("watcher: unknown decision %q", decision)
}

func (t *Tier2) appendRecord(runID string, record DecisionRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("watcher: encode decision record: %w", err)
	}
	f, err := os.OpenFile(t.recordPath(runID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("watcher: open decision log: %w", err)
	}
	defer f.Close()
	_, err = f.Write(append(body, '\n'))
	return err
}
