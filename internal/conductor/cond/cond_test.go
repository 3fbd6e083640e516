package cond

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// ctx documents that Eval takes the run context map directly: fieldPath
// already drops the leading "context" segment from "context.status", so
// the path resolves against this map's top-level keys, not a wrapper.
func ctx(m map[string]any) map[string]any {
	return m
}

func TestEmptyConditionIsAlwaysTrue(t *testing.T) {
	e, err := Parse("")
	require.NoError(t, err)
	require.True(t, e.Eval(nil))
}

func TestEquality(t *testing.T) {
	e, err := Parse(`context.status == "ready"`)
	require.NoError(t, err)
	require.True(t, e.Eval(ctx(map[string]any{"status": "ready"})))
	require.False(t, e.Eval(ctx(map[string]any{"status": "pending"})))
}

func TestInequality(t *testing.T) {
	e, err := Parse(`context.count != 0`)
	require.NoError(t, err)
	require.True(t, e.Eval(ctx(map[string]any{"count": float64(3)})))
	require.False(t, e.Eval(ctx(map[string]any{"count": float64(0)})))
}

func TestAndOrNot(t *testing.T) {
	e, err := Parse(`context.a == "x" and not context.b == "y"`)
	require.NoError(t, err)
	require.True(t, e.Eval(ctx(map[string]any{"a": "x", "b": "z"})))
	require.False(t, e.Eval(ctx(map[string]any{"a": "x", "b": "y"})))

	e2, err := Parse(`context.a == "x" or context.b == "y"`)
	require.NoError(t, err)
	require.True(t, e2.Eval(ctx(map[string]any{"a": "no", "b": "y"})))
}

func TestMembership(t *testing.T) {
	e, err := Parse(`"blocker" in context.tags`)
	require.NoError(t, err)
	require.True(t, e.Eval(ctx(map[string]any{"tags": []any{"blocker", "urgent"}})))
	require.False(t, e.Eval(ctx(map[string]any{"tags": []any{"urgent"}})))
}

func TestMissingKeyDefaultsFalse(t *testing.T) {
	e, err := Parse(`context.missing == "x"`)
	require.NoError(t, err)
	require.False(t, e.Eval(ctx(map[string]any{})))
}

func TestParenthesesAndPrecedence(t *testing.T) {
	e, err := Parse(`(context.a == "x" or context.b == "y") and context.c == "z"`)
	require.NoError(t, err)
	require.True(t, e.Eval(ctx(map[string]any{"a": "x", "c": "z"})))
	require.False(t, e.Eval(ctx(map[string]any{"a": "no", "b": "no", "c": "z"})))
}

func TestParseErrorOnMalformedExpression(t *testing.T) {
	_, err := Parse(`context.a ==`)
	require.Error(t, err)
}
