package watcher

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toseekandfind/multi-agent-sandbox/internal/blackboard"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTier1(t *testing.T, opts Options) (*Tier1, *blackboard.Manager) {
	t.Helper()
	boards, err := blackboard.NewManager(t.TempDir())
	require.NoError(t, err)
	t1, err := NewTier1(boards, t.TempDir(), testLogger(), opts)
	require.NoError(t, err)
	return t1, boards
}

func TestPollNominalWithActiveAgents(t *testing.T) {
	t1, boards := newTier1(t, Options{})
	board, err := boards.Open("run-1")
	require.NoError(t, err)
	require.NoError(t, board.RegisterAgent("a1", "explore", nil))

	decision, signal, err := t1.Poll("run-1", nil)
	require.NoError(t, err)
	require.Equal(t, DecisionNominal, decision)
	require.Nil(t, signal)
}

func TestPollInterventionOnStaleAgent(t *testing.T) {
	t1, boards := newTier1(t, Options{HeartbeatTimeout: time.Millisecond})
	board, err := boards.Open("run-2")
	require.NoError(t, err)
	require.NoError(t, board.RegisterAgent("a1", "explore", nil))
	time.Sleep(5 * time.Millisecond)

	decision, signal, err := t1.Poll("run-2", nil)
	require.NoError(t, err)
	require.Equal(t, DecisionInterventionNeeded, decision)
	require.NotNil(t, signal)
	require.Contains(t, signal.StaleAgents, "a1")
	require.True(t, t1.HasSignal("run-2"))
}

func TestPollInterventionOnErrorKeyword(t *testing.T) {
	t1, boards := newTier1(t, Options{})
	board, err := boards.Open("run-3")
	require.NoError(t, err)
	require.NoError(t, board.RegisterAgent("a1", "explore", nil))

	decision, signal, err := t1.Poll("run-3", []string{"agent panicked", "FATAL: out of memory"})
	require.NoError(t, err)
	require.Equal(t, DecisionInterventionNeeded, decision)
	require.NotEmpty(t, signal.ErrorExcerpts)
}

func TestPollDoesNotDoubleWriteSignal(t *testing.T) {
	t1, boards := newTier1(t, Options{HeartbeatTimeout: time.Millisecond})
	board, err := boards.Open("run-4")
	require.NoError(t, err)
	require.NoError(t, board.RegisterAgent("a1", "explore", nil))
	time.Sleep(5 * time.Millisecond)

	_, first, err := t1.Poll("run-4", nil)
	require.NoError(t, err)
	require.NotNil(t, first)

	decision, second, err := t1.Poll("run-4", nil)
	require.NoError(t, err)
	require.Equal(t, DecisionInterventionNeeded, decision)
	require.Nil(t, second, "a second poll must not overwrite the outstanding signal")
}

func TestPollCompleteWhenAllAgentsDoneAndQueueDrained(t *testing.T) {
	t1, boards := newTier1(t, Options{})
	board, err := boards.Open("run-5")
	require.NoError(t, err)
	require.NoError(t, board.RegisterAgent("a1", "explore", nil))
	require.NoError(t, board.MarkCompleted("a1"))

	decision, _, err := t1.Poll("run-5", nil)
	require.NoError(t, err)
	require.Equal(t, DecisionComplete, decision)
}

func TestWatchStopsAtIntervention(t *testing.T) {
	t1, boards := newTier1(t, Options{PollInterval: time.Millisecond, HeartbeatTimeout: time.Millisecond})
	board, err := boards.Open("run-6")
	require.NoError(t, err)
	require.NoError(t, board.RegisterAgent("a1", "explore", nil))
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	decision, err := t1.Watch(ctx, "run-6", func() []string { return nil })
	require.NoError(t, err)
	require.Equal(t, DecisionInterventionNeeded, decision)
}
