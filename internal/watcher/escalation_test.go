package watcher

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toseekandfind/multi-agent-sandbox/internal/blackboard"
	"github.com/toseekandfind/multi-agent-sandbox/pkg/types"
)

func newTiers(t *testing.T) (*Tier1, *Tier2, *blackboard.Manager) {
	t.Helper()
	boards, err := blackboard.NewManager(t.TempDir())
	require.NoError(t, err)
	signalDir := t.TempDir()
	t1, err := NewTier1(boards, signalDir, testLogger(), Options{HeartbeatTimeout: time.Millisecond})
	require.NoError(t, err)
	t2 := NewTier2(boards, signalDir, testLogger())
	return t1, t2, boards
}

func TestHandleRestartsStaleAgent(t *testing.T) {
	t1, t2, boards := newTiers(t)
	board, err := boards.Open("run-1")
	require.NoError(t, err)
	require.NoError(t, board.RegisterAgent("a1", "explore", nil))
	time.Sleep(5 * time.Millisecond)

	decision, _, err := t1.Poll("run-1", nil)
	require.NoError(t, err)
	require.Equal(t, DecisionInterventionNeeded, decision)

	out, err := t2.Handle("run-1")
	require.NoError(t, err)
	require.Equal(t, DecisionRestart, out)

	snap, err := board.Snapshot()
	require.NoError(t, err)
	require.Equal(t, types.AgentActive, snap.Agents["a1"].State)
	require.False(t, t1.HasSignal("run-1"), "tier2 must archive the signal so tier1 resumes")
}

func TestHandleSynthesizesFailureWithPartialOutput(t *testing.T) {
	_, t2, boards := newTiers(t)
	board, err := boards.Open("run-2")
	require.NoError(t, err)
	require.NoError(t, board.RegisterAgent("a1", "explore", nil))
	require.NoError(t, board.AddFinding("a1", "fact", "found something", nil, "", nil))
	require.NoError(t, board.MarkFailed("a1"))

	require.NoError(t, writeTestSignal(t2, "run-2", &EscalationSignal{ID: "esc-1", RunID: "run-2", Reason: "worker exit"}))

	decision, err := t2.Handle("run-2")
	require.NoError(t, err)
	require.Equal(t, DecisionSynthesize, decision)

	snap, err := board.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.TaskQueue, 1)
}

func TestHandleReassignsFailureWithoutOutput(t *testing.T) {
	_, t2, boards := newTiers(t)
	board, err := boards.Open("run-3")
	require.NoError(t, err)
	require.NoError(t, board.RegisterAgent("a1", "do the thing", nil))
	require.NoError(t, board.MarkFailed("a1"))

	require.NoError(t, writeTestSignal(t2, "run-3", &EscalationSignal{ID: "esc-1", RunID: "run-3", Reason: "worker exit"}))

	decision, err := t2.Handle("run-3")
	require.NoError(t, err)
	require.Equal(t, DecisionReassign, decision)

	snap, err := board.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.TaskQueue, 1)
	require.Equal(t, "do the thing", snap.TaskQueue[0].Content)
}

func TestHandleAbortsAtFailureThreshold(t *testing.T) {
	_, t2, boards := newTiers(t)
	board, err := boards.Open("run-4")
	require.NoError(t, err)
	for _, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, board.RegisterAgent(id, "t", nil))
		require.NoError(t, board.MarkFailed(id))
	}

	require.NoError(t, writeTestSignal(t2, "run-4", &EscalationSignal{ID: "esc-1", RunID: "run-4", Reason: "worker exit"}))

	decision, err := t2.Handle("run-4")
	require.NoError(t, err)
	require.Equal(t, DecisionAbort, decision)
}

func TestHandleEscalatesHumanOnConflictLanguage(t *testing.T) {
	_, t2, boards := newTiers(t)
	board, err := boards.Open("run-5")
	require.NoError(t, err)
	require.NoError(t, board.RegisterAgent("a1", "t", nil))

	require.NoError(t, writeTestSignal(t2, "run-5", &EscalationSignal{
		ID: "esc-1", RunID: "run-5", Reason: "coordination error",
		ErrorExcerpts: []string{"deadlock detected between agent-a and agent-b"},
	}))

	decision, err := t2.Handle("run-5")
	require.NoError(t, err)
	require.Equal(t, DecisionEscalateHuman, decision)
}

func writeTestSignal(t2 *Tier2, runID string, signal *EscalationSignal) error {
	body, err := json.MarshalIndent(signal, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t2.signalPath(runID), body, 0o644)
}
