package tenant

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/store/sqlitestore"
)

func newLookup(t *testing.T) *StoreLookup {
	t.Helper()
	st, err := sqlitestore.Open(filepath.Join(t.TempDir(), "tenant.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewStoreLookup(st)
}

func TestResolveAuthDisabled(t *testing.T) {
	r := New(nil, true)
	id, err := r.Resolve(context.Background(), "anything")
	require.NoError(t, err)
	require.Equal(t, DefaultTenantID, id.TenantID)
	require.True(t, id.HasScope(ScopeSubmit))
}

func TestGenerateAndResolveAPIKey(t *testing.T) {
	ctx := context.Background()
	lookup := newLookup(t)

	token, rec, err := GenerateAPIKey("acme-corp", []string{string(ScopeSubmit), string(ScopeRead)})
	require.NoError(t, err)
	require.NoError(t, lookup.Save(ctx, rec))

	r := New(lookup, false)
	id, err := r.Resolve(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "acme-corp", id.TenantID)
	require.True(t, id.HasScope(ScopeRead))
	require.False(t, id.HasScope(ScopeAdmin))
}

func TestResolveRejectsWrongToken(t *testing.T) {
	ctx := context.Background()
	lookup := newLookup(t)
	token, rec, err := GenerateAPIKey("acme-corp", []string{string(ScopeSubmit)})
	require.NoError(t, err)
	require.NoError(t, lookup.Save(ctx, rec))

	r := New(lookup, false)
	tampered := token[:len(token)-1] + "0"
	_, err = r.Resolve(ctx, tampered)
	require.Error(t, err)
}

func TestResolveRejectsRevoked(t *testing.T) {
	ctx := context.Background()
	lookup := newLookup(t)
	token, rec, err := GenerateAPIKey("acme-corp", []string{string(ScopeSubmit)})
	require.NoError(t, err)
	require.NoError(t, lookup.Save(ctx, rec))
	require.NoError(t, lookup.Revoke(ctx, rec.KeyPrefix))

	r := New(lookup, false)
	_, err = r.Resolve(ctx, token)
	require.Error(t, err)
}

func TestResolveUnknownPrefix(t *testing.T) {
	r := New(newLookup(t), false)
	_, err := r.Resolve(context.Background(), "0000000000000000000000000000000000000000000000")
	require.Error(t, err)
}
