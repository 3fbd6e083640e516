// Package dispatch is the worker-pool loop that pulls queued jobs and
// runs them against a registered executor.Strategy, grounded on the
// teacher's ClaimTaskForEpic atomic claim and on
// pgollucci-loom's DispatchOnce ready-work/idle-worker matching. Unlike
// the teacher's in-workflow retries, a failed job here is terminal: the
// only retries this package performs are the bounded backoff attempts
// for a single Strategy.Execute call against a transient backend error.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/toseekandfind/multi-agent-sandbox/internal/apperr"
	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/queue"
	"github.com/toseekandfind/multi-agent-sandbox/internal/executor"
	"github.com/toseekandfind/multi-agent-sandbox/internal/jobstore"
	"github.com/toseekandfind/multi-agent-sandbox/internal/webhooks"
	"github.com/toseekandfind/multi-agent-sandbox/internal/workspace"
	"github.com/toseekandfind/multi-agent-sandbox/pkg/telemetry"
	"github.com/toseekandfind/multi-agent-sandbox/pkg/types"
)

// Notifier receives lifecycle events at the same terminal transitions
// that flow into the job store, so both the webhook manager and any
// live event-stream subscriber can react without the engine knowing
// either exists. A nil Notifier disables notification entirely.
type Notifier func(tenantID string, event webhooks.EventType, data map[string]any)

// Options tunes the engine's concurrency and timing.
type Options struct {
	Workers            int
	VisibilityTimeout  time.Duration
	HeartbeatInterval  time.Duration
	MaxBackoffAttempts int
	ReceiveWait        time.Duration

	// Backpressure widens executeWithBackoff's delay when the
	// executor's output signals rate-limiting or sustained slowness.
	// Nil disables the extra widening; the fixed exponential backoff
	// still applies.
	Backpressure *executor.Controller
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 5 * time.Minute
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = o.VisibilityTimeout / 3
	}
	if o.MaxBackoffAttempts <= 0 {
		o.MaxBackoffAttempts = 3
	}
	if o.ReceiveWait <= 0 {
		o.ReceiveWait = 2 * time.Second
	}
	if o.Backpressure == nil {
		o.Backpressure = executor.NewController(executor.ControllerConfig{})
	}
	return o
}

// Engine runs Workers goroutines pulling from q, executing against a
// registered Strategy, and recording outcomes in the job store.
type Engine struct {
	log       *slog.Logger
	jobs      *jobstore.Store
	q         queue.Queue
	registry  *executor.Registry
	workspace *workspace.Manager
	opts      Options
	notify    Notifier
}

// New returns an Engine ready for Run.
func New(log *slog.Logger, jobs *jobstore.Store, q queue.Queue, registry *executor.Registry, ws *workspace.Manager, opts Options) *Engine {
	return &Engine{log: log, jobs: jobs, q: q, registry: registry, workspace: ws, opts: opts.withDefaults()}
}

// WithNotifier attaches the callback invoked on job terminal
// transitions. Returns e for chaining at construction time.
func (e *Engine) WithNotifier(n Notifier) *Engine {
	e.notify = n
	return e
}

func (e *Engine) emit(tenantID string, event webhooks.EventType, data map[string]any) {
	if e.notify != nil {
		e.notify(tenantID, event, data)
	}
}

// Submit persists a new job and enqueues its delivery.
func (e *Engine) Submit(ctx context.Context, tenantID, jobType string, payload []byte) (types.Job, error) {
	job, err := e.jobs.Submit(ctx, tenantID, jobType, payload)
	if err != nil {
		return types.Job{}, err
	}
	msg, err := json.Marshal(types.EnqueueMessage{JobID: job.ID})
	if err != nil {
		return types.Job{}, fmt.Errorf("dispatch: encode enqueue message: %w", err)
	}
	if err := e.q.Enqueue(ctx, msg); err != nil {
		return types.Job{}, fmt.Errorf("dispatch: enqueue: %w", err)
	}
	return job, nil
}

// Run starts Workers worker goroutines and blocks until ctx is
// cancelled or a worker returns a non-context error.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.opts.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			return e.workerLoop(ctx, workerID)
		})
	}
	return g.Wait()
}

func (e *Engine) workerLoop(ctx context.Context, workerID string) error {
	log := e.log.With("worker_id", workerID)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := e.q.Receive(ctx, 1, e.opts.VisibilityTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("receive failed", "error", err)
			time.Sleep(e.opts.ReceiveWait)
			continue
		}
		if len(msgs) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(e.opts.ReceiveWait):
			}
			continue
		}

		for _, msg := range msgs {
			e.handleDelivery(ctx, workerID, log, msg)
		}
	}
}

func (e *Engine) handleDelivery(ctx context.Context, workerID string, log *slog.Logger, msg queue.Message) {
	var env types.EnqueueMessage
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		log.Error("malformed enqueue message, dropping", "error", err)
		_ = e.q.Delete(ctx, msg.ReceiptHandle)
		return
	}
	log = log.With("job_id", env.JobID)

	claimCtx, claimSpan := telemetry.StartJobSpan(ctx, telemetry.SpanJobClaim, env.JobID, "", "")
	job, err := e.jobs.Claim(claimCtx, env.JobID, workerID)
	if err != nil {
		if errors.Is(err, jobstore.ErrIllegalTransition) {
			// Already claimed by a redelivered lease, or already
			// terminal; either way this delivery is stale.
			claimSpan.End()
			_ = e.q.Delete(ctx, msg.ReceiptHandle)
			return
		}
		telemetry.RecordError(claimSpan, err, "claim_failed")
		claimSpan.End()
		log.Error("claim failed", "error", err)
		_ = e.q.Release(ctx, msg.ReceiptHandle)
		return
	}
	telemetry.EndOK(claimSpan)
	claimSpan.End()

	strategy, ok := e.registry.Lookup(job.Type)
	if !ok {
		e.terminalFail(ctx, log, job.ID, job.TenantID, apperr.PermanentBackend, "no strategy registered for job type "+job.Type)
		_ = e.q.Delete(ctx, msg.ReceiptHandle)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	stopHeartbeat := e.startHeartbeat(runCtx, msg.ReceiptHandle)

	workDir, cleanup, err := e.workDirFor(job)
	if err != nil {
		cancel()
		stopHeartbeat()
		e.terminalFail(ctx, log, job.ID, job.TenantID, apperr.Handler, "prepare workspace: "+err.Error())
		_ = e.q.Delete(ctx, msg.ReceiptHandle)
		return
	}
	defer cleanup()

	execCtx, execSpan := telemetry.StartJobSpan(runCtx, telemetry.SpanJobExecute, job.ID, job.Type, job.TenantID)
	result, err := e.executeWithBackoff(execCtx, log, strategy, executor.Request{
		JobID: job.ID, TenantID: job.TenantID, JobType: job.Type, Payload: job.Payload, WorkDir: workDir,
	})
	if err != nil {
		telemetry.RecordError(execSpan, err, "execute_failed")
	} else {
		telemetry.EndOK(execSpan)
	}
	execSpan.End()
	cancel()
	stopHeartbeat()

	if err != nil {
		e.terminalFail(ctx, log, job.ID, job.TenantID, apperr.KindOf(err), err.Error())
		_ = e.q.Delete(ctx, msg.ReceiptHandle)
		return
	}

	if _, err := e.jobs.Succeed(ctx, job.ID, result.ResultPointer); err != nil {
		log.Error("failed to record success", "error", err)
	}
	e.emit(job.TenantID, webhooks.EventJobSucceeded, map[string]any{"job_id": job.ID, "job_type": job.Type})
	_ = e.q.Delete(ctx, msg.ReceiptHandle)
}

func (e *Engine) workDirFor(job types.Job) (string, func(), error) {
	if e.workspace == nil {
		return "", func() {}, nil
	}
	dir, err := e.workspace.Prepare(job.TenantID, job.ID)
	if err != nil {
		return "", func() {}, err
	}
	return dir, func() { e.workspace.Cleanup(job.TenantID, job.ID) }, nil
}

// executeWithBackoff calls strategy.Execute up to MaxBackoffAttempts
// times in total, retrying only when the failure is classified
// TransientBackend; any
// other error is returned immediately as terminal, matching the
// no-in-loop-retry rule for everything except backend flakiness.
func (e *Engine) executeWithBackoff(ctx context.Context, log *slog.Logger, strategy executor.Strategy, req executor.Request) (executor.Result, error) {
	var lastErr error
	for attempt := 0; attempt < e.opts.MaxBackoffAttempts; attempt++ {
		start := time.Now()
		result, err := strategy.Execute(ctx, req)
		elapsed := time.Since(start)

		if e.opts.Backpressure != nil {
			sig := executor.Classify(result, err, elapsed, e.opts.Backpressure.SlowThreshold())
			e.opts.Backpressure.OnSignal(sig)
		}
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !apperr.IsRetryable(err) {
			return executor.Result{}, err
		}

		log.Warn("transient backend error, retrying", "attempt", attempt+1, "error", err)
		backoff := backoffDelay(attempt)
		if e.opts.Backpressure != nil {
			if extra := e.opts.Backpressure.ExtraDelay(); extra > backoff {
				log.Warn("backpressure widened retry delay", "delay", extra)
				backoff = extra
			}
		}
		select {
		case <-ctx.Done():
			return executor.Result{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return executor.Result{}, fmt.Errorf("dispatch: exhausted %d attempts: %w", e.opts.MaxBackoffAttempts, lastErr)
}

// backoffDelay is exponential, base 500ms, capped at 30s, plus up to
// 25% jitter added on top of the capped delay.
func backoffDelay(attempt int) time.Duration {
	base := 500 * time.Millisecond
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 4 + 1))
	return delay + jitter
}

// startHeartbeat starts a goroutine that renews receiptHandle's
// visibility timeout until ctx is cancelled. The returned stop func
// blocks until that goroutine has actually exited, so a caller that
// calls stop() right after cancelling ctx never races the next
// receive against a heartbeat still in flight on the same handle.
func (e *Engine) startHeartbeat(ctx context.Context, receiptHandle string) func() {
	ticker := time.NewTicker(e.opts.HeartbeatInterval)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.q.Heartbeat(ctx, receiptHandle, e.opts.VisibilityTimeout); err != nil {
					e.log.Warn("heartbeat failed", "error", err)
				}
			}
		}
	}()
	return wg.Wait
}

func (e *Engine) terminalFail(ctx context.Context, log *slog.Logger, jobID, tenantID string, kind apperr.Kind, message string) {
	if _, err := e.jobs.Fail(ctx, jobID, kind, message); err != nil {
		log.Error("failed to record failure", "error", err)
	}
	e.emit(tenantID, webhooks.EventJobFailed, map[string]any{"job_id": jobID, "kind": string(kind), "message": message})
}
