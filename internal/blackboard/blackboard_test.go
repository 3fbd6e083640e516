package blackboard

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toseekandfind/multi-agent-sandbox/pkg/types"
)

func newBoard(t *testing.T) *Board {
	t.Helper()
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)
	board, err := mgr.Open("run-1")
	require.NoError(t, err)
	return board
}

func TestRegisterAgentIdempotent(t *testing.T) {
	b := newBoard(t)
	require.NoError(t, b.RegisterAgent("agent-a", "explore", []string{"auth"}))
	require.NoError(t, b.RegisterAgent("agent-a", "explore-again", nil))

	snap, err := b.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Agents, 1)
	require.Equal(t, "explore", snap.Agents["agent-a"].Task, "second register must not overwrite the first")
}

func TestAddFindingRequiresRegisteredAgent(t *testing.T) {
	b := newBoard(t)
	err := b.AddFinding("ghost", "fact", "x", nil, "", nil)
	require.Error(t, err)

	require.NoError(t, b.RegisterAgent("agent-a", "explore", nil))
	require.NoError(t, b.AddFinding("agent-a", "fact", "found it", nil, "high", []string{"tag"}))

	snap, err := b.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Findings, 1)
}

func TestReadDeltaAdvancesCursor(t *testing.T) {
	b := newBoard(t)
	require.NoError(t, b.RegisterAgent("agent-a", "explore", nil))
	require.NoError(t, b.AddFinding("agent-a", "fact", "one", nil, "", nil))
	require.NoError(t, b.AddFinding("agent-a", "fact", "two", nil, "", nil))

	delta, err := b.ReadDelta("agent-a")
	require.NoError(t, err)
	require.Len(t, delta, 2)

	require.NoError(t, b.AddFinding("agent-a", "fact", "three", nil, "", nil))
	delta2, err := b.ReadDelta("agent-a")
	require.NoError(t, err)
	require.Len(t, delta2, 1)
	require.Equal(t, "three", delta2[0].Content)
}

func TestClaimChainConflict(t *testing.T) {
	b := newBoard(t)
	require.NoError(t, b.RegisterAgent("agent-a", "t", nil))
	require.NoError(t, b.RegisterAgent("agent-b", "t", nil))

	_, err := b.ClaimChain("agent-a", []string{"file.go"}, "editing", time.Minute)
	require.NoError(t, err)

	_, err = b.ClaimChain("agent-b", []string{"file.go"}, "also editing", time.Minute)
	require.Error(t, err)
	var conflict *ClaimConflict
	require.True(t, errors.As(err, &conflict))
	require.Len(t, conflict.Chains, 1)
}

func TestClaimChainExpiresLazily(t *testing.T) {
	b := newBoard(t)
	require.NoError(t, b.RegisterAgent("agent-a", "t", nil))
	require.NoError(t, b.RegisterAgent("agent-b", "t", nil))

	_, err := b.ClaimChain("agent-a", []string{"file.go"}, "editing", -time.Second) // already expired
	require.NoError(t, err)

	// A second claim over the same file should now succeed because the
	// stale chain is lazily expired on the next read-modify-write.
	_, err = b.ClaimChain("agent-b", []string{"file.go"}, "editing", time.Minute)
	require.NoError(t, err)
}

func TestReleaseChain(t *testing.T) {
	b := newBoard(t)
	require.NoError(t, b.RegisterAgent("agent-a", "t", nil))
	chain, err := b.ClaimChain("agent-a", []string{"file.go"}, "editing", time.Minute)
	require.NoError(t, err)

	require.NoError(t, b.ReleaseChain("agent-a", chain.ChainID))

	snap, err := b.Snapshot()
	require.NoError(t, err)
	require.Equal(t, types.ClaimReleased, snap.ClaimChains[chain.ChainID].Status)
}

func TestMessagesAreAppendOnly(t *testing.T) {
	b := newBoard(t)
	require.NoError(t, b.RegisterAgent("agent-a", "t", nil))
	require.NoError(t, b.AddMessage("agent-a", "hello"))
	require.NoError(t, b.AddMessage("agent-a", "world"))

	snap, err := b.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Messages, 2)
	require.Equal(t, "hello", snap.Messages[0].Content)
}

func TestClaimTaskAssignsFirstUnclaimed(t *testing.T) {
	b := newBoard(t)
	require.NoError(t, b.RegisterAgent("agent-a", "t", nil))
	_, err := b.EnqueueTask("do the thing")
	require.NoError(t, err)

	item, ok, err := b.ClaimTask("agent-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "agent-a", item.ClaimedBy)

	_, ok2, err := b.ClaimTask("agent-b")
	require.NoError(t, err)
	require.False(t, ok2)
}
