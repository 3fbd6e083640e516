package main

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toseekandfind/multi-agent-sandbox/internal/config"
	"github.com/toseekandfind/multi-agent-sandbox/internal/executor"
	"github.com/toseekandfind/multi-agent-sandbox/internal/logging"
)

// testConfig returns a Config rooted entirely under t.TempDir(), so
// concurrent test runs never collide over sqlite files or workspace
// directories.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		ListenAddr:            ":0",
		RateLimitPerMinute:    120,
		QueueBackend:          "memory",
		StoreBackend:          "sqlite",
		SQLitePath:            filepath.Join(dir, "orchestrator.db"),
		Workers:               1,
		VisibilityTimeout:     time.Minute,
		HeartbeatInterval:     time.Second,
		ReconcileInterval:     time.Minute,
		ReconcileGracePeriod:  time.Minute,
		MaxBackoffAttempts:    1,
		AgentTimeout:          time.Minute,
		CancelGrace:           time.Second,
		TmuxBinary:            "tmux",
		AgentBinaryPath:       "claude",
		RunConcurrency:        2,
		PollInterval:          time.Second,
		HeartbeatTimeout:      time.Second,
		MultiFailureThreshold: 3,
		TrailHalfLife:         time.Hour,
		AuthDisabled:          true,
		WorkspaceRoot:         filepath.Join(dir, "workspaces"),
		ArtifactRoot:          filepath.Join(dir, "artifacts"),
	}
}

func withTestGlobals(t *testing.T) {
	t.Helper()
	cfg = testConfig(t)
	log = logging.New(logging.Options{Level: "error", JSON: false, Out: io.Discard})
}

func TestBuildRegistry_RegistersEveryBuiltinStrategy(t *testing.T) {
	withTestGlobals(t)

	registry, inproc := buildRegistry()
	require.NotNil(t, registry)
	require.NotNil(t, inproc)

	for _, jobType := range []string{"noop", "agent.tmux", "agent.launch"} {
		_, ok := registry.Lookup(jobType)
		assert.True(t, ok, "expected %q to be registered", jobType)
	}

	strategy, ok := registry.Lookup("noop")
	require.True(t, ok)
	result, err := strategy.Execute(context.Background(), executor.Request{JobType: "noop"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.ResultPointer)
}

func TestBuildRegistry_SimulatedLaunchSucceeds(t *testing.T) {
	withTestGlobals(t)

	registry, _ := buildRegistry()
	strategy, ok := registry.Lookup("agent.launch")
	require.True(t, ok)

	result, err := strategy.Execute(context.Background(), executor.Request{JobType: "agent.launch"})
	require.NoError(t, err)
	assert.Equal(t, "simulated launch completed", result.ResultText)
}

func TestBuildBackends_OpensEveryBackendAndCloses(t *testing.T) {
	withTestGlobals(t)

	b, err := buildBackends(context.Background())
	require.NoError(t, err)
	require.NotNil(t, b.store)
	require.NotNil(t, b.queue)
	require.NotNil(t, b.jobs)
	require.NotNil(t, b.runs)
	require.NotNil(t, b.boards)
	require.NotNil(t, b.knowledge)
	require.NotNil(t, b.tenants)
	require.NotNil(t, b.resolver)
	require.NotNil(t, b.registry)
	require.NotNil(t, b.inproc)
	require.Nil(t, b.redisClient, "no redis client should be built for a memory-backed config")

	b.Close()
}

func TestBuildBackends_BuildsRedisClientWhenConfigured(t *testing.T) {
	withTestGlobals(t)
	cfg.RedisURL = "localhost:0"

	b, err := buildBackends(context.Background())
	require.NoError(t, err)
	defer b.Close()

	assert.NotNil(t, b.redisClient, "a redis client should be constructed whenever RedisURL is set, even with the memory queue backend")
}
