// Package conductor runs one workflow definition's DAG to completion
// inside a worker that claimed a "workflow" job, generalizing the
// teacher's internal/workflow/orchestrator.go sequential dependency-map
// walk and dbos_workflow.go per-node step split into the ready-set
// iteration spec.md §4.4 describes over the {single, parallel, swarm}
// tagged node kinds. The edge-condition/context-merge shape has no
// direct teacher analogue and is grounded on
// other_examples/dukex-operion__execution_context.go and
// other_examples/ignatij-goflow__workflow.go.
package conductor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/toseekandfind/multi-agent-sandbox/internal/apperr"
	"github.com/toseekandfind/multi-agent-sandbox/internal/conductor/cond"
	"github.com/toseekandfind/multi-agent-sandbox/internal/nodes"
	"github.com/toseekandfind/multi-agent-sandbox/internal/webhooks"
	"github.com/toseekandfind/multi-agent-sandbox/pkg/telemetry"
	"github.com/toseekandfind/multi-agent-sandbox/pkg/types"
)

// Notifier receives run lifecycle events, the same callback shape
// dispatch.Notifier uses, so both engines can share one wiring point
// in the process that constructs them.
type Notifier func(tenantID string, event webhooks.EventType, data map[string]any)

// Options tunes one Engine.
type Options struct {
	// Concurrency bounds how many node executions may be in flight at
	// once for a single run.
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	return o
}

// Engine drives workflow runs to completion.
type Engine struct {
	store  *Store
	deps   nodes.Deps
	log    *slog.Logger
	opts   Options
	notify Notifier
}

// New builds an Engine.
func New(store *Store, deps nodes.Deps, log *slog.Logger, opts Options) *Engine {
	return &Engine{store: store, deps: deps, log: log, opts: opts.withDefaults()}
}

// WithNotifier attaches the callback invoked on run completion.
// Returns e for chaining at construction time.
func (e *Engine) WithNotifier(n Notifier) *Engine {
	e.notify = n
	return e
}

// parsedEdge pairs an edge with its precompiled condition, so a parse
// error surfaces once at workflow-load time rather than mid-run.
type parsedEdge struct {
	types.EdgeDef
	expr *cond.Expr
}

// ValidateWorkflow checks the DAG invariants spec.md §4 names: exactly
// one edge leaves __start__, every non-terminal node has at least one
// outgoing edge, __end__ has only incoming edges, the graph excluding
// sentinels is acyclic, and every swarm node names at least one role
// (spec.md §4.5 fires the node "for each specified role"; zero roles
// has nothing to fire and must be rejected rather than silently
// completing as a no-op).
func ValidateWorkflow(wf *types.Workflow) error {
	if len(wf.Nodes) == 0 {
		return apperr.New(apperr.Validation, "workflow has no nodes")
	}

	outgoingCount := map[string]int{}
	for _, e := range wf.Edges {
		outgoingCount[e.From]++
		if e.From == types.EndSentinel {
			return apperr.New(apperr.Validation, "__end__ may not have an outgoing edge")
		}
	}

	if outgoingCount[types.StartSentinel] != 1 {
		return apperr.New(apperr.Validation, fmt.Sprintf("expected exactly one __start__ edge, found %d", outgoingCount[types.StartSentinel]))
	}

	for _, n := range wf.Nodes {
		if outgoingCount[n.ID] == 0 {
			return apperr.New(apperr.Validation, fmt.Sprintf("node %q has no outgoing edge", n.ID))
		}
		if n.Kind == types.NodeSwarm && len(n.Config.Roles) == 0 {
			return apperr.New(apperr.Validation, fmt.Sprintf("swarm node %q has no roles", n.ID))
		}
	}

	if err := checkAcyclic(wf); err != nil {
		return err
	}
	return nil
}

func checkAcyclic(wf *types.Workflow) error {
	adj := map[string][]string{}
	for _, e := range wf.Edges {
		if e.From == types.StartSentinel || e.To == types.EndSentinel {
			continue
		}
		adj[e.From] = append(adj[e.From], e.To)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, next := range adj[id] {
			switch color[next] {
			case gray:
				return apperr.New(apperr.Validation, fmt.Sprintf("cycle detected involving node %q", next))
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, n := range wf.Nodes {
		if color[n.ID] == white {
			if err := visit(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func compileEdges(wf *types.Workflow) (incoming, outgoing map[string][]parsedEdge, err error) {
	incoming = map[string][]parsedEdge{}
	outgoing = map[string][]parsedEdge{}
	for _, e := range wf.Edges {
		expr, perr := cond.Parse(e.Condition)
		if perr != nil {
			return nil, nil, apperr.Wrap(apperr.Validation, fmt.Sprintf("edge %s->%s condition", e.From, e.To), perr)
		}
		pe := parsedEdge{EdgeDef: e, expr: expr}
		incoming[e.To] = append(incoming[e.To], pe)
		outgoing[e.From] = append(outgoing[e.From], pe)
	}
	return incoming, outgoing, nil
}

// StartRun validates wf, initializes a run record, and executes it to
// completion (or failure). It always returns the run, even on error, so
// callers can inspect its final state.
func (e *Engine) StartRun(ctx context.Context, wf *types.Workflow, tenantID string, input map[string]any) (*types.Run, error) {
	if err := ValidateWorkflow(wf); err != nil {
		return nil, err
	}
	incoming, outgoing, err := compileEdges(wf)
	if err != nil {
		return nil, err
	}

	run := &types.Run{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		TenantID:   tenantID,
		Status:     types.RunRunning,
		Input:      input,
		Context:    copyContext(input),
		TotalNodes: len(wf.Nodes),
		StartedAt:  time.Now(),
	}
	if run.Context == nil {
		run.Context = map[string]any{}
	}
	if err := e.store.SaveRun(ctx, run); err != nil {
		return nil, err
	}

	runCtx, span := telemetry.StartRunSpan(ctx, run.ID, run.WorkflowID, run.TenantID)
	runErr := e.execute(runCtx, wf, run, incoming, outgoing)
	if runErr != nil {
		telemetry.RecordError(span, runErr, "run_failed")
	} else {
		telemetry.EndOK(span)
	}
	span.End()

	now := time.Now()
	run.CompletedAt = &now
	if runErr != nil {
		run.Status = types.RunFailed
	} else {
		run.Status = types.RunCompleted
		run.Output = run.Context
	}
	if err := e.store.SaveRun(ctx, run); err != nil {
		e.log.Error("conductor: save final run state", "run_id", run.ID, "error", err)
	}
	if e.notify != nil {
		if runErr != nil {
			e.notify(run.TenantID, webhooks.EventRunFailed, map[string]any{"run_id": run.ID, "workflow_id": run.WorkflowID})
		} else {
			e.notify(run.TenantID, webhooks.EventRunCompleted, map[string]any{"run_id": run.ID, "workflow_id": run.WorkflowID})
		}
	}
	return run, runErr
}

type nodeResult struct {
	nodeID string
	exec   types.NodeExecution
	err    error
}

// edgeKey identifies one edge for the firedEdges set below; a workflow
// may have at most one edge between a given (from, to) pair per the
// authoring convention the rest of this package assumes.
func edgeKey(from, to string) string { return from + "->" + to }

// nodePriority is the pop-order priority spec.md §4.4 assigns a
// ready-set member: the lowest priority number among its incoming
// edges (an edge with no explicit priority defaults to 0, so a
// workflow that never sets priority pops in a stable lexical order
// exactly as before). A node reachable only through __start__ inherits
// __start__'s edge priority.
func nodePriority(id string, incoming map[string][]parsedEdge) int {
	best := 0
	first := true
	for _, e := range incoming[id] {
		if first || e.Priority < best {
			best = e.Priority
			first = false
		}
	}
	return best
}

// resolveFiringEdges evaluates every edge's condition against ctx and
// returns the subset that actually fire, applying spec.md §4.4's
// tie-breaking rule: among the edges whose condition evaluates true,
// only the lowest-priority-number group is taken; edges tied at that
// priority all fire (the Cartesian expansion), a higher priority
// number is treated as a losing alternative even though its own
// condition was also true. A workflow that leaves every edge at the
// default priority 0 has every true edge tie for lowest, so this
// degrades to "all true edges fire" exactly as it did before priority
// was implemented.
func resolveFiringEdges(edges []parsedEdge, ctx map[string]any) map[string]bool {
	fired := map[string]bool{}
	if len(edges) == 0 {
		return fired
	}
	bestPriority := 0
	haveTrue := false
	for _, e := range edges {
		if !e.expr.Eval(ctx) {
			continue
		}
		if !haveTrue || e.Priority < bestPriority {
			bestPriority = e.Priority
			haveTrue = true
		}
	}
	if !haveTrue {
		return fired
	}
	for _, e := range edges {
		if e.expr.Eval(ctx) && e.Priority == bestPriority {
			fired[edgeKey(e.From, e.To)] = true
		}
	}
	return fired
}

// execute is the ready-set loop spec.md §4.4 describes: maintain a
// ready-set of nodes with all predecessors satisfied, pop it by node
// priority (lowest number first, lexical-by-id as the tie-break when
// priorities match, resolving the Open Question that the ready-set pop
// order isn't otherwise pinned down), evaluate incoming edge
// conditions, fire pending nodes up to the concurrency bound, merge
// results into context on completion, and expand outgoing edges. The
// loop ends when the ready-set empties or __end__ fires.
func (e *Engine) execute(ctx context.Context, wf *types.Workflow, run *types.Run, incoming, outgoing map[string][]parsedEdge) error {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	nodeByID := map[string]types.NodeDef{}
	for _, n := range wf.Nodes {
		nodeByID[n.ID] = n
	}

	done := map[string]bool{types.StartSentinel: true}
	queued := map[string]bool{}
	var readyQueue []string
	enqueue := func(id string) {
		if !queued[id] && !done[id] {
			queued[id] = true
			readyQueue = append(readyQueue, id)
		}
	}
	allPredecessorsDone := func(id string) bool {
		for _, edge := range incoming[id] {
			if !done[edge.From] {
				return false
			}
		}
		return true
	}
	considerReady := func(id string) {
		if !done[id] && allPredecessorsDone(id) {
			enqueue(id)
		}
	}

	// firedEdges records which edges actually won spec.md §4.4's
	// priority tie-break at the moment their source node completed;
	// the pop-time incoming-edge check below consults this instead of
	// re-evaluating each edge's condition in isolation, so a true
	// condition on a losing (higher priority number) sibling edge
	// never counts as firing its target.
	firedEdges := map[string]bool{}

	for key := range resolveFiringEdges(outgoing[types.StartSentinel], run.Context) {
		firedEdges[key] = true
	}
	for _, edge := range outgoing[types.StartSentinel] {
		considerReady(edge.To)
	}

	retryCounts := map[string]int{}
	resultCache := map[string]types.NodeExecution{}
	results := make(chan nodeResult)
	inflight := 0
	aborting := false
	var runErr error
	completedOK := false

	markDone := func(id string) {
		done[id] = true
		for key := range resolveFiringEdges(outgoing[id], run.Context) {
			firedEdges[key] = true
		}
		for _, edge := range outgoing[id] {
			considerReady(edge.To)
		}
	}

	for {
		for !aborting && inflight < e.opts.Concurrency && len(readyQueue) > 0 {
			sort.Slice(readyQueue, func(i, j int) bool {
				pi, pj := nodePriority(readyQueue[i], incoming), nodePriority(readyQueue[j], incoming)
				if pi != pj {
					return pi < pj
				}
				return readyQueue[i] < readyQueue[j]
			})
			id := readyQueue[0]
			readyQueue = readyQueue[1:]
			delete(queued, id)

			if id == types.EndSentinel {
				completedOK = true
				markDone(id)
				continue
			}

			node, ok := nodeByID[id]
			if !ok {
				markDone(id)
				continue
			}

			fires := len(incoming[id]) == 0
			for _, edge := range incoming[id] {
				if firedEdges[edgeKey(edge.From, edge.To)] {
					fires = true
					break
				}
			}
			if !fires {
				_ = e.store.AppendDecision(ctx, types.Decision{
					ID: uuid.NewString(), RunID: run.ID, Kind: types.DecisionSkipNode,
					Data: map[string]any{"node_id": id}, CreatedAt: time.Now(),
				})
				markDone(id)
				continue
			}

			snapshot := &types.Run{ID: run.ID, TenantID: run.TenantID, Context: copyContext(run.Context)}

			if node.Kind == types.NodeSingle {
				if _, hash, err := nodes.PromptHashForSingle(node, snapshot); err == nil {
					cached, hit := resultCache[node.ID+":"+hash]
					if !hit {
						// Not seen yet in this run's in-memory cache;
						// consult the cross-run persisted cache so a
						// resubmission of the same workflow with the
						// same input can still skip re-invoking the
						// executor, per spec.md's cached re-fire
						// scenario.
						if persisted, ok, perr := e.store.LookupPromptCache(ctx, run.TenantID, node.ID, hash); perr == nil && ok {
							cached, hit = persisted, true
						}
					}
					if hit && cached.Status == types.NodeExecCompleted {
						replay := cached
						replay.ID = uuid.NewString()
						replay.RetryCount = retryCounts[id]
						replay.Status = types.NodeExecSkipped
						replay.CreatedAt = time.Now()
						replay.UpdatedAt = time.Now()
						_ = e.store.SaveNodeExecution(ctx, &replay)
						_ = e.store.AppendDecision(ctx, types.Decision{
							ID: uuid.NewString(), RunID: run.ID, Kind: types.DecisionSkipNode,
							Data: map[string]any{"node_id": id, "reason": "cached_prompt_hash"}, CreatedAt: time.Now(),
						})
						mergeContext(run, replay)
						markDone(id)
						continue
					}
				}
			}

			execID := uuid.NewString()
			pending := types.NodeExecution{
				ID: execID, RunID: run.ID, NodeID: id, NodeKind: node.Kind,
				Status: types.NodeExecPending, RetryCount: retryCounts[id],
				CreatedAt: time.Now(), UpdatedAt: time.Now(),
			}
			if err := e.store.SaveNodeExecution(ctx, &pending); err != nil {
				e.log.Warn("conductor: save pending node execution", "node_id", id, "error", err)
			}
			_ = e.store.AppendDecision(ctx, types.Decision{
				ID: uuid.NewString(), RunID: run.ID, Kind: types.DecisionFireNode,
				Data: map[string]any{"node_id": id, "retry_count": retryCounts[id]}, CreatedAt: time.Now(),
			})

			inflight++
			retry := retryCounts[id]
			go func(node types.NodeDef, execID string, retry int) {
				nodeCtx, span := telemetry.StartNodeSpan(runCtx, node.ID, string(node.Kind), retry)
				exec, err := nodes.Execute(nodeCtx, e.deps, snapshot, node, execID, retry)
				if err != nil {
					telemetry.RecordError(span, err, "node_failed")
				} else {
					telemetry.EndOK(span)
				}
				span.End()
				results <- nodeResult{nodeID: node.ID, exec: exec, err: err}
			}(node, execID, retry)
		}

		if inflight == 0 {
			break
		}

		res := <-results
		inflight--

		if err := e.store.SaveNodeExecution(ctx, &res.exec); err != nil {
			e.log.Warn("conductor: save node execution", "node_id", res.nodeID, "error", err)
		}

		node := nodeByID[res.nodeID]

		if res.err == nil {
			if node.Kind == types.NodeSingle {
				resultCache[node.ID+":"+res.exec.PromptHash] = res.exec
				if err := e.store.CachePromptResult(ctx, run.TenantID, node.ID, res.exec.PromptHash, res.exec); err != nil {
					e.log.Warn("conductor: cache prompt result", "node_id", res.nodeID, "error", err)
				}
			}
			mergeContext(run, res.exec)
			markDone(res.nodeID)
			continue
		}

		budget := node.Config.RetryBudget
		if retryCounts[res.nodeID] < budget {
			retryCounts[res.nodeID]++
			_ = e.store.AppendDecision(ctx, types.Decision{
				ID: uuid.NewString(), RunID: run.ID, Kind: types.DecisionRetry,
				Data: map[string]any{"node_id": res.nodeID, "retry_count": retryCounts[res.nodeID]},
				Reason: res.err.Error(), CreatedAt: time.Now(),
			})
			enqueue(res.nodeID)
			continue
		}

		run.FailedNodes++

		if node.Config.ToleratesFail {
			_ = e.store.AppendDecision(ctx, types.Decision{
				ID: uuid.NewString(), RunID: run.ID, Kind: types.DecisionPhaseChange,
				Data: map[string]any{"node_id": res.nodeID}, Reason: "failure tolerated: " + res.err.Error(),
				CreatedAt: time.Now(),
			})
			markDone(res.nodeID)
			continue
		}

		runErr = apperr.Wrap(apperr.KindOf(res.err), fmt.Sprintf("node %s failed", res.nodeID), res.err)
		_ = e.store.AppendDecision(ctx, types.Decision{
			ID: uuid.NewString(), RunID: run.ID, Kind: types.DecisionAbort,
			Data: map[string]any{"node_id": res.nodeID}, Reason: res.err.Error(), CreatedAt: time.Now(),
		})
		aborting = true
		cancelRun()
	}

	if runErr != nil {
		return runErr
	}
	if !completedOK {
		return apperr.New(apperr.Handler, "run stalled before __end__ fired")
	}
	return nil
}

// mergeContext applies the well-defined merge spec.md §4.4 names:
// findings append, files_modified sets union. Scalar last-writer-wins
// has no representation here because node executions only ever produce
// findings and files_modified; a node kind that wanted to write
// arbitrary scalar context keys would merge them the same way.
func mergeContext(run *types.Run, exec types.NodeExecution) {
	if run.Context == nil {
		run.Context = map[string]any{}
	}
	if len(exec.Findings) > 0 {
		existing, _ := run.Context["findings"].([]any)
		for _, f := range exec.Findings {
			existing = append(existing, f)
		}
		run.Context["findings"] = existing
	}
	if len(exec.FilesModified) > 0 {
		set := map[string]bool{}
		if existing, ok := run.Context["files_modified"].([]any); ok {
			for _, v := range existing {
				if s, ok := v.(string); ok {
					set[s] = true
				}
			}
		}
		for _, f := range exec.FilesModified {
			set[f] = true
		}
		merged := make([]string, 0, len(set))
		for k := range set {
			merged = append(merged, k)
		}
		sort.Strings(merged)
		out := make([]any, len(merged))
		for i, v := range merged {
			out[i] = v
		}
		run.Context["files_modified"] = out
	}
	run.CompletedNodes++
}

func copyContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}
