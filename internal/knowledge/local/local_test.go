package local

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toseekandfind/multi-agent-sandbox/internal/knowledge"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "knowledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGoldenRulesAlwaysIncluded(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.AddGoldenRule("r1", knowledge.DomainGeneral, "Never commit secrets"))

	text, err := s.Query(context.Background(), knowledge.Query{TaskText: "add a feature"})
	require.NoError(t, err)
	require.Contains(t, text, "Never commit secrets")
}

func TestHeuristicsRankedByScore(t *testing.T) {
	s := newStore(t)
	now := time.Now()
	require.NoError(t, s.AddHeuristic("h-old", knowledge.DomainBackend, "old low-value heuristic", 0.3, now.Add(-30*24*time.Hour)))
	require.NoError(t, s.AddHeuristic("h-fresh", knowledge.DomainBackend, "fresh validated heuristic", 0.6, now))
	for i := 0; i < 10; i++ {
		require.NoError(t, s.ValidateHeuristic("h-fresh"))
	}

	text, err := s.Query(context.Background(), knowledge.Query{TaskText: "backend work", Domain: knowledge.DomainBackend})
	require.NoError(t, err)

	freshIdx := indexOf(text, "fresh validated heuristic")
	oldIdx := indexOf(text, "old low-value heuristic")
	require.NotEqual(t, -1, freshIdx)
	require.True(t, oldIdx == -1 || freshIdx < oldIdx, "higher-scored heuristic should rank first")
}

func TestSimilarFailuresJaccardThreshold(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.RecordOutcome(context.Background(), knowledge.Outcome{
		NodeExecutionID: "ne-1",
		Title:           "database connection timeout during migration",
		Summary:         "the migration step failed because the database connection timed out",
		OccurredAt:      time.Now(),
	}))

	text, err := s.Query(context.Background(), knowledge.Query{TaskText: "database connection timeout while running migration"})
	require.NoError(t, err)
	require.Contains(t, text, "database connection timeout during migration")
}

func TestSimilarFailuresOutsideWindowExcluded(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.RecordOutcome(context.Background(), knowledge.Outcome{
		NodeExecutionID: "ne-old",
		Title:           "database connection timeout during migration",
		Summary:         "the migration step failed because the database connection timed out",
		OccurredAt:      time.Now().Add(-60 * 24 * time.Hour),
	}))

	text, err := s.Query(context.Background(), knowledge.Query{TaskText: "database connection timeout while running migration"})
	require.NoError(t, err)
	require.NotContains(t, text, "database connection timeout during migration")
}

func TestSuccessfulOutcomeNotRecordedAsFailure(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.RecordOutcome(context.Background(), knowledge.Outcome{
		NodeExecutionID: "ne-2",
		Title:           "unrelated success",
		Summary:         "everything worked",
		Succeeded:       true,
		OccurredAt:      time.Now(),
	}))

	text, err := s.Query(context.Background(), knowledge.Query{TaskText: "unrelated success everything worked"})
	require.NoError(t, err)
	require.Equal(t, "", text)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
