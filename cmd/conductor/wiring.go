package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/blob"
	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/queue"
	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/queue/memqueue"
	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/queue/redisqueue"
	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/store"
	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/store/postgresstore"
	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/store/sqlitestore"
	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/launcher"
	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/launcher/simlauncher"
	"github.com/toseekandfind/multi-agent-sandbox/internal/blackboard"
	"github.com/toseekandfind/multi-agent-sandbox/internal/conductor"
	"github.com/toseekandfind/multi-agent-sandbox/internal/executor"
	"github.com/toseekandfind/multi-agent-sandbox/internal/executor/inprocess"
	"github.com/toseekandfind/multi-agent-sandbox/internal/executor/tasklaunch"
	"github.com/toseekandfind/multi-agent-sandbox/internal/executor/tmuxproc"
	"github.com/toseekandfind/multi-agent-sandbox/internal/jobstore"
	"github.com/toseekandfind/multi-agent-sandbox/internal/knowledge"
	knowledgelocal "github.com/toseekandfind/multi-agent-sandbox/internal/knowledge/local"
	"github.com/toseekandfind/multi-agent-sandbox/internal/tenant"
	"github.com/toseekandfind/multi-agent-sandbox/internal/trail"
	"github.com/toseekandfind/multi-agent-sandbox/internal/workspace"
)

// backends bundles every process-wide dependency built from cfg, so
// serve/worker/migrate share one construction path instead of
// duplicating backend-selection logic three times.
type backends struct {
	store       store.Store
	closeStore  func() error
	queue       queue.Queue
	blobs       *blob.LocalStore
	workspace   *workspace.Manager
	jobs        *jobstore.Store
	runs        *conductor.Store
	boards      *blackboard.Manager
	trail       *trail.Ledger
	knowledge   knowledge.Store
	tenants     *tenant.StoreLookup
	resolver    *tenant.Resolver
	registry    *executor.Registry
	inproc      *inprocess.Strategy
	redisClient *redis.Client
}

func buildBackends(ctx context.Context) (*backends, error) {
	b := &backends{}

	switch cfg.StoreBackend {
	case "postgres":
		pg, err := postgresstore.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		b.store, b.closeStore = pg, pg.Close
	default:
		sq, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		b.store, b.closeStore = sq, sq.Close
	}

	if cfg.QueueBackend == "redis" || cfg.RedisURL != "" {
		b.redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	}

	switch cfg.QueueBackend {
	case "redis":
		b.queue = redisqueue.New(b.redisClient, "conductor")
	default:
		b.queue = memqueue.New()
	}

	blobs, err := blob.NewLocal(cfg.ArtifactRoot)
	if err != nil {
		return nil, fmt.Errorf("opening blob store: %w", err)
	}
	b.blobs = blobs

	ws, err := workspace.New(cfg.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("opening workspace root: %w", err)
	}
	b.workspace = ws

	boards, err := blackboard.NewManager(filepath.Join(cfg.WorkspaceRoot, "boards"))
	if err != nil {
		return nil, fmt.Errorf("opening blackboard root: %w", err)
	}
	b.boards = boards

	knowledgeStore, err := knowledgelocal.Open(filepath.Join(cfg.WorkspaceRoot, "knowledge.db"))
	if err != nil {
		return nil, fmt.Errorf("opening knowledge store: %w", err)
	}
	b.knowledge = knowledgeStore

	b.jobs = jobstore.New(b.store)
	b.runs = conductor.NewStore(b.store)
	b.trail = trail.New(b.store, cfg.TrailHalfLife)
	b.tenants = tenant.NewStoreLookup(b.store)
	b.resolver = tenant.New(b.tenants, cfg.AuthDisabled)

	b.registry, b.inproc = buildRegistry()

	return b, nil
}

func (b *backends) Close() {
	if b.closeStore != nil {
		_ = b.closeStore()
	}
	if b.redisClient != nil {
		_ = b.redisClient.Close()
	}
}

// buildRegistry registers every executor strategy the process ships
// with: an in-process strategy for lightweight built-in job types, a
// tmux-backed strategy for interactive coding-agent jobs, and a
// task-launch strategy backed by an in-process simulated launcher so a
// deployment without a real external task-launch API still has
// somewhere for "launched" job types to go.
func buildRegistry() (*executor.Registry, *inprocess.Strategy) {
	registry := executor.NewRegistry()

	inproc := inprocess.New()
	inproc.Handle("noop", func(ctx context.Context, req executor.Request) (executor.Result, error) {
		return executor.Result{ResultPointer: "ok"}, nil
	})
	registry.Register("noop", inproc)

	tmux := tmuxproc.New(tmuxproc.Options{
		TmuxBinary:      cfg.TmuxBinary,
		AgentBinaryPath: cfg.AgentBinaryPath,
	})
	registry.Register("agent.tmux", tmux)

	// No external task-launch API is configured by default, so
	// agent.launch jobs run against an in-process simulated launcher
	// that reports immediate success. A deployment with a real launcher
	// (a subprocess pool, a container scheduler) swaps this for one
	// that implements launcher.Launcher against that system.
	sim := simlauncher.New(func(ctx context.Context, spec launcher.LaunchSpec) (launcher.LaunchResult, error) {
		return launcher.LaunchResult{Status: launcher.LaunchSucceeded, ResultText: "simulated launch completed"}, nil
	})
	launch := tasklaunch.New(sim, "agent")
	registry.Register("agent.launch", launch)

	return registry, inproc
}
