package main

import (
	"bufio"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureStdout runs fn with os.Stdout redirected to a pipe and returns
// everything it wrote, since keygenCmd prints the raw token directly
// rather than through cobra's configurable output writer.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	require.NoError(t, w.Close())
	os.Stdout = orig

	var sb strings.Builder
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteString("\n")
	}
	return sb.String()
}

func TestKeygenCmd_GeneratesAndPersistsAPIKey(t *testing.T) {
	withTestGlobals(t)
	// The resolver only consults persisted keys when auth is enabled.
	cfg.AuthDisabled = false

	var token string
	out := captureStdout(t, func() {
		cmd := keygenCmd()
		cmd.SetArgs([]string{"acme-corp", "--scopes", "submit,read,admin"})
		cmd.SetContext(context.Background())
		require.NoError(t, cmd.Execute())
	})

	require.Contains(t, out, "api key:")
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "api key:") {
			token = strings.TrimSpace(strings.TrimPrefix(line, "api key:"))
		}
	}
	require.NotEmpty(t, token)

	b, err := buildBackends(context.Background())
	require.NoError(t, err)
	defer b.Close()

	identity, err := b.resolver.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "acme-corp", identity.TenantID)
	assert.ElementsMatch(t, []string{"submit", "read", "admin"}, identity.Scopes)
}

func TestKeygenCmd_RequiresTenantArg(t *testing.T) {
	withTestGlobals(t)

	cmd := keygenCmd()
	cmd.SetArgs([]string{})
	cmd.SetContext(context.Background())
	assert.Error(t, cmd.Execute())
}
