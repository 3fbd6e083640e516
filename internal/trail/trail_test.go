package trail

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/store/sqlitestore"
	"github.com/toseekandfind/multi-agent-sandbox/pkg/types"
)

func newLedger(t *testing.T, halfLife time.Duration) *Ledger {
	t.Helper()
	backing, err := sqlitestore.Open(filepath.Join(t.TempDir(), "trail.db"))
	require.NoError(t, err)
	t.Cleanup(func() { backing.Close() })
	return New(backing, halfLife)
}

func TestRecordAndQuery(t *testing.T) {
	l := newLedger(t, time.Hour)
	ctx := context.Background()

	_, err := l.Record(ctx, types.Trail{Location: "internal/foo.go", Scent: types.ScentHot, Strength: 1.0})
	require.NoError(t, err)

	results, err := l.Query(ctx, QueryOptions{Location: "internal/foo.go"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.InDelta(t, 1.0, results[0].EffectiveStrength, 0.01)
}

func TestDecayReducesEffectiveStrength(t *testing.T) {
	l := newLedger(t, time.Hour)
	ctx := context.Background()

	old := types.Trail{
		Location: "hot.go", Scent: types.ScentHot, Strength: 1.0,
		CreatedAt: time.Now().Add(-2 * time.Hour), // two half-lives ago
	}
	_, err := l.Record(ctx, old)
	require.NoError(t, err)

	results, err := l.Query(ctx, QueryOptions{Location: "hot.go"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.InDelta(t, 0.25, results[0].EffectiveStrength, 0.02, "two half-lives should quarter the strength")
}

func TestExpiredTrailsFilteredAtRead(t *testing.T) {
	l := newLedger(t, time.Hour)
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	_, err := l.Record(ctx, types.Trail{Location: "gone.go", Strength: 1.0, ExpiresAt: &past})
	require.NoError(t, err)

	results, err := l.Query(ctx, QueryOptions{Location: "gone.go"})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestCompactRemovesExpired(t *testing.T) {
	l := newLedger(t, time.Hour)
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	_, err := l.Record(ctx, types.Trail{Location: "gone.go", Strength: 1.0, ExpiresAt: &past})
	require.NoError(t, err)

	removed, err := l.Compact(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
}

func TestQueryFiltersByScentAndSince(t *testing.T) {
	l := newLedger(t, time.Hour)
	ctx := context.Background()

	_, err := l.Record(ctx, types.Trail{Location: "x.go", Scent: types.ScentWarning, Strength: 0.8})
	require.NoError(t, err)
	_, err = l.Record(ctx, types.Trail{Location: "x.go", Scent: types.ScentHot, Strength: 0.9})
	require.NoError(t, err)

	results, err := l.Query(ctx, QueryOptions{Location: "x.go", Scent: types.ScentHot})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, types.ScentHot, results[0].Trail.Scent)
}
