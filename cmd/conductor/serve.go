package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/toseekandfind/multi-agent-sandbox/internal/conductor"
	"github.com/toseekandfind/multi-agent-sandbox/internal/dispatch"
	"github.com/toseekandfind/multi-agent-sandbox/internal/executor"
	"github.com/toseekandfind/multi-agent-sandbox/internal/executor/tmuxproc"
	"github.com/toseekandfind/multi-agent-sandbox/internal/httpapi"
	"github.com/toseekandfind/multi-agent-sandbox/internal/httpapi/middleware"
	"github.com/toseekandfind/multi-agent-sandbox/internal/nodes"
	"github.com/toseekandfind/multi-agent-sandbox/internal/webhooks"
	"github.com/toseekandfind/multi-agent-sandbox/pkg/types"
)

// workflowRunRequest is the payload of the built-in "workflow.run" job
// type: submitting one of these through POST /v1/jobs is how a tenant
// starts a swarm/parallel/single-node workflow run, so the run
// lifecycle rides the same durable job pipeline as any other job
// instead of needing a second submission path.
type workflowRunRequest struct {
	Workflow types.Workflow         `json:"workflow"`
	Input    map[string]any         `json:"input,omitempty"`
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API together with the dispatch and conductor workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return runServe(ctx)
		},
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func runServe(ctx context.Context) error {
	b, err := buildBackends(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	webhookMgr := webhooks.NewManager(log)
	webhookMgr.Start(4)
	defer webhookMgr.Stop(context.Background())

	hub := httpapi.NewHub(log)
	notify := httpapi.ComposeNotifier(webhookMgr, hub)

	conductorStrategy := tmuxproc.New(tmuxproc.Options{
		TmuxBinary:      cfg.TmuxBinary,
		AgentBinaryPath: cfg.AgentBinaryPath,
	})
	conductorEngine := conductor.New(b.runs, nodes.Deps{
		Strategy:    conductorStrategy,
		Knowledge:   b.knowledge,
		Blackboards: b.boards,
	}, log, conductor.Options{Concurrency: cfg.RunConcurrency})
	conductorEngine.WithNotifier(notify)

	registerWorkflowRunHandler(b, conductorEngine)

	reconciler := startReconciler(b.workspace)
	defer reconciler.Stop()

	dispatchEngine := dispatch.New(log, b.jobs, b.queue, b.registry, b.workspace, dispatch.Options{
		Workers:            cfg.Workers,
		VisibilityTimeout:  cfg.VisibilityTimeout,
		HeartbeatInterval:  cfg.HeartbeatInterval,
		MaxBackoffAttempts: cfg.MaxBackoffAttempts,
	})
	dispatchEngine.WithNotifier(notify)

	deps := httpapi.Dependencies{
		Auth:      middleware.NewAuth(b.resolver),
		RateLimit: middleware.NewRateLimit(b.redisClient, cfg.RateLimitPerMinute),
		Log:       log,
		Jobs:      httpapi.NewJobHandlers(dispatchEngine, b.jobs),
		Health:    httpapi.NewHealthHandlers(b.store, b.queue, b.blobs),
		Swarm:     httpapi.NewSwarmHandlers(b.runs, b.boards),
		Events:    httpapi.NewEventHandlers(hub, log),
	}
	router := httpapi.NewRouter(deps)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: router}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatchEngine.Run(ctx) })
	g.Go(func() error {
		log.Info("listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// registerWorkflowRunHandler wires the workflow.run job type into the
// dispatch registry, so a POST /v1/jobs with type "workflow.run" drives
// a conductor run to completion inside the same worker pool that
// handles every other job type.
func registerWorkflowRunHandler(b *backends, conductorEngine *conductor.Engine) {
	b.registry.Register("workflow.run", b.inproc)
	b.inproc.Handle("workflow.run", func(ctx context.Context, req executor.Request) (executor.Result, error) {
		var payload workflowRunRequest
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return executor.Result{}, fmt.Errorf("workflow.run: decode payload: %w", err)
		}
		run, err := conductorEngine.StartRun(ctx, &payload.Workflow, req.TenantID, payload.Input)
		if err != nil {
			return executor.Result{}, err
		}
		return executor.Result{ResultPointer: run.ID}, nil
	})
}
