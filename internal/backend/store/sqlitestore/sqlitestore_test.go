package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/store"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	v, err := s.Put(ctx, "jobs", "job-1", []byte("payload-1"))
	require.NoError(t, err)
	require.Equal(t, int64(1), v)

	rec, err := s.Get(ctx, "jobs", "job-1")
	require.NoError(t, err)
	require.Equal(t, "payload-1", string(rec.Value))
	require.Equal(t, int64(1), rec.Version)
}

func TestGetNotFound(t *testing.T) {
	s := openTemp(t)
	_, err := s.Get(context.Background(), "jobs", "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCompareAndSwap(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	v, err := s.CompareAndSwap(ctx, "jobs", "job-1", 0, []byte("v1"))
	require.NoError(t, err)
	require.Equal(t, int64(1), v)

	// Stale expected version must fail.
	_, err = s.CompareAndSwap(ctx, "jobs", "job-1", 0, []byte("v2-bad"))
	require.ErrorIs(t, err, store.ErrConflict)

	v, err = s.CompareAndSwap(ctx, "jobs", "job-1", 1, []byte("v2"))
	require.NoError(t, err)
	require.Equal(t, int64(2), v)

	rec, err := s.Get(ctx, "jobs", "job-1")
	require.NoError(t, err)
	require.Equal(t, "v2", string(rec.Value))
}

func TestListWithPrefixAndPaging(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	for _, k := range []string{"a-1", "a-2", "a-3", "b-1"} {
		_, err := s.Put(ctx, "things", k, []byte(k))
		require.NoError(t, err)
	}

	res, err := s.List(ctx, store.ListOptions{Collection: "things", KeyPrefix: "a-", Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	require.Equal(t, "a-1", res.Records[0].Key)
	require.Equal(t, "a-2", res.Records[1].Key)
	require.NotEmpty(t, res.NextCursor)

	res2, err := s.List(ctx, store.ListOptions{Collection: "things", KeyPrefix: "a-", Cursor: res.NextCursor})
	require.NoError(t, err)
	require.Len(t, res2.Records, 1)
	require.Equal(t, "a-3", res2.Records[0].Key)
}

func TestDeleteAbsentKeyIsNotError(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Delete(context.Background(), "jobs", "nope"))
}
