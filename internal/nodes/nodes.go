// Package nodes implements the three node-kind executors the conductor
// fires: single, parallel, and swarm. They share one contract (Execute)
// dispatched on types.NodeKind, generalizing the teacher's
// dbos_workflow.go per-task step sequence (createWorktree/executeClaude
// /commitChanges/mergeToMain) into a single "render prompt, spawn
// agent(s), parse findings" execution, with parallel and swarm adding
// fan-out.
package nodes

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/toseekandfind/multi-agent-sandbox/internal/apperr"
	"github.com/toseekandfind/multi-agent-sandbox/internal/blackboard"
	"github.com/toseekandfind/multi-agent-sandbox/internal/executor"
	"github.com/toseekandfind/multi-agent-sandbox/internal/identifier"
	"github.com/toseekandfind/multi-agent-sandbox/internal/knowledge"
	"github.com/toseekandfind/multi-agent-sandbox/pkg/types"
)

// Deps are the collaborators every node kind needs. Strategy is the
// "spawn one agent" capability; Blackboards opens (creating if absent)
// the per-run blackboard swarm nodes coordinate through.
type Deps struct {
	Strategy    executor.Strategy
	Knowledge   knowledge.Store
	Blackboards *blackboard.Manager
}

// Execute dispatches to the node-kind-specific executor and returns the
// resulting node execution record. execID is the caller-assigned id of
// the node_execution row the conductor already wrote in "pending"
// state; every path here reuses it so the row transitions in place
// rather than the conductor tracking a second id for the same attempt.
// Execute never returns a nil result: on failure the returned
// NodeExecution's Status is Failed and err is set.
func Execute(ctx context.Context, deps Deps, run *types.Run, node types.NodeDef, execID string, retryCount int) (types.NodeExecution, error) {
	switch node.Kind {
	case types.NodeSingle:
		return executeSingle(ctx, deps, run, node, execID, retryCount)
	case types.NodeParallel:
		return executeParallel(ctx, deps, run, node, execID, retryCount)
	case types.NodeSwarm:
		return executeSwarm(ctx, deps, run, node, execID, retryCount)
	default:
		return failedExec(run.ID, node.ID, execID, node.Kind, retryCount,
			apperr.New(apperr.Validation, fmt.Sprintf("unknown node kind %q", node.Kind)))
	}
}

func failedExec(runID, nodeID, execID string, kind types.NodeKind, retryCount int, err error) (types.NodeExecution, error) {
	return types.NodeExecution{
		ID:           execID,
		RunID:        runID,
		NodeID:       nodeID,
		NodeKind:     kind,
		Status:       types.NodeExecFailed,
		RetryCount:   retryCount,
		ErrorMessage: err.Error(),
		ErrorKind:    string(apperr.KindOf(err)),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}, err
}

// PromptHashForSingle renders node's prompt template against run.Context
// exactly as executeSingle would, without invoking any executor
// strategy. The conductor uses this to check its prompt_hash cache
// before firing a single-kind node, so an identical re-fire (retry or
// re-submitted workflow) can reuse a prior completed result. Only
// single-kind nodes have one canonical prompt; parallel and swarm nodes
// render a distinct prompt per shard/role and are not cached this way.
func PromptHashForSingle(node types.NodeDef, run *types.Run) (prompt string, hash string, err error) {
	prompt, err = renderPrompt(node.PromptTemplate, run.Context, nil)
	if err != nil {
		return "", "", err
	}
	return prompt, promptHash(prompt), nil
}

// renderPrompt renders node.PromptTemplate against run.Context using
// text/template (the standard library's templating engine; none of the
// example repos import a third-party templating library, so this is
// the one ambient concern left on the standard library).
func renderPrompt(tmplSrc string, runContext map[string]any, extra map[string]any) (string, error) {
	tmpl, err := template.New("prompt").Parse(tmplSrc)
	if err != nil {
		return "", fmt.Errorf("nodes: parse prompt template: %w", err)
	}
	data := map[string]any{"context": runContext}
	for k, v := range extra {
		data[k] = v
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("nodes: render prompt template: %w", err)
	}
	return buf.String(), nil
}

func promptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// prefixKinds maps the structured-finding line-prefix convention to a
// Finding.Kind value.
var prefixKinds = map[string]string{
	"[fact]":       "fact",
	"[hypothesis]": "hypothesis",
	"[blocker]":    "blocker",
	"[question]":   "question",
}

// parseFindings scans text for lines beginning with one of the
// recognized bracketed prefixes and turns each into a Finding.
func parseFindings(agentID, text string) []types.Finding {
	var findings []types.Finding
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		for prefix, kind := range prefixKinds {
			if strings.HasPrefix(lower, prefix) {
				content := strings.TrimSpace(trimmed[len(prefix):])
				findings = append(findings, types.Finding{
					ID:        uuid.NewString(),
					AgentID:   agentID,
					Kind:      kind,
					Content:   content,
					CreatedAt: time.Now(),
				})
				break
			}
		}
	}
	return findings
}

func executeSingle(ctx context.Context, deps Deps, run *types.Run, node types.NodeDef, execID string, retryCount int) (types.NodeExecution, error) {
	agentID, err := identifier.Validate(node.ID, identifier.Node)
	if err != nil {
		return failedExec(run.ID, node.ID, execID, node.Kind, retryCount, apperr.Wrap(apperr.Validation, "node id", err))
	}

	prompt, err := renderPrompt(node.PromptTemplate, run.Context, nil)
	if err != nil {
		return failedExec(run.ID, node.ID, execID, node.Kind, retryCount, apperr.Wrap(apperr.Validation, "render prompt", err))
	}
	// The hash covers the rendered template only, as PromptHashForSingle
	// computes it, so a knowledge prefix does not defeat the prompt cache.
	hash := promptHash(prompt)
	prompt = withKnowledge(ctx, deps, run, node, prompt)

	result, err := deps.Strategy.Execute(ctx, executor.Request{
		JobID: run.ID, TenantID: run.TenantID, JobType: string(node.Kind), Payload: []byte(prompt),
	})
	if err != nil {
		return failedExec(run.ID, node.ID, execID, node.Kind, retryCount, err)
	}

	return types.NodeExecution{
		ID:         execID,
		RunID:      run.ID,
		NodeID:     node.ID,
		NodeKind:   node.Kind,
		AgentID:    agentID,
		Prompt:     prompt,
		PromptHash: hash,
		Status:     types.NodeExecCompleted,
		ResultText: result.ResultText,
		Findings:   parseFindings(agentID, result.ResultText),
		RetryCount: retryCount,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}, nil
}

func executeParallel(ctx context.Context, deps Deps, run *types.Run, node types.NodeDef, execID string, retryCount int) (types.NodeExecution, error) {
	n := node.Config.Concurrency
	if n <= 0 {
		n = 1
	}

	type shardResult struct {
		findings []types.Finding
		text     string
		err      error
	}
	results := make([]shardResult, n)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			shardID, err := identifier.Derive(identifier.Node, "%s-p%d", node.ID, i+1)
			if err != nil {
				results[i] = shardResult{err: apperr.Wrap(apperr.Validation, "shard id", err)}
				return nil
			}
			prompt, err := renderPrompt(node.PromptTemplate, run.Context, map[string]any{"shard_index": i, "shard_id": shardID})
			if err != nil {
				results[i] = shardResult{err: apperr.Wrap(apperr.Validation, "render prompt", err)}
				return nil
			}
			res, err := deps.Strategy.Execute(gctx, executor.Request{
				JobID: run.ID, TenantID: run.TenantID, JobType: string(node.Kind), Payload: []byte(prompt),
			})
			if err != nil {
				results[i] = shardResult{err: err}
				if !node.Config.BestEffort {
					cancel()
				}
				return nil
			}
			results[i] = shardResult{findings: parseFindings(shardID, res.ResultText), text: res.ResultText}
			return nil
		})
	}
	_ = g.Wait()

	var allFindings []types.Finding
	var texts []string
	var firstErr error
	for _, r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		allFindings = append(allFindings, r.findings...)
		texts = append(texts, r.text)
	}

	if firstErr != nil && !node.Config.BestEffort {
		return failedExec(run.ID, node.ID, execID, node.Kind, retryCount, firstErr)
	}

	return types.NodeExecution{
		ID:         execID,
		RunID:      run.ID,
		NodeID:     node.ID,
		NodeKind:   node.Kind,
		Status:     types.NodeExecCompleted,
		ResultText: strings.Join(texts, "\n---\n"),
		Findings:   allFindings,
		RetryCount: retryCount,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}, nil
}

func executeSwarm(ctx context.Context, deps Deps, run *types.Run, node types.NodeDef, execID string, retryCount int) (types.NodeExecution, error) {
	// conductor.ValidateWorkflow rejects a zero-role swarm node at load
	// time; this guard only protects a caller that invokes Execute
	// without going through StartRun first, so a swarm node never
	// silently completes with no work done.
	if len(node.Config.Roles) == 0 {
		return failedExec(run.ID, node.ID, execID, node.Kind, retryCount,
			apperr.New(apperr.Validation, "swarm node has no roles"))
	}
	if deps.Blackboards == nil {
		return failedExec(run.ID, node.ID, execID, node.Kind, retryCount,
			apperr.New(apperr.Handler, "swarm node requires a blackboard manager"))
	}
	board, err := deps.Blackboards.Open(run.ID)
	if err != nil {
		return failedExec(run.ID, node.ID, execID, node.Kind, retryCount, apperr.Wrap(apperr.Handler, "open blackboard", err))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, role := range node.Config.Roles {
		role := role
		roleID, err := identifier.Derive(identifier.Node, "%s-%s", node.ID, role.Name)
		if err != nil {
			return failedExec(run.ID, node.ID, execID, node.Kind, retryCount, apperr.Wrap(apperr.Validation, "role id", err))
		}
		if err := board.RegisterAgent(roleID, role.Name, role.Interests); err != nil {
			return failedExec(run.ID, node.ID, execID, node.Kind, retryCount, apperr.Wrap(apperr.Handler, "register agent", err))
		}

		g.Go(func() error {
			prompt, err := renderPrompt(node.PromptTemplate, run.Context, map[string]any{
				"role": role.Name, "blackboard_path": board.Path(),
			})
			if err != nil {
				_ = board.MarkFailed(roleID)
				return nil
			}
			res, err := deps.Strategy.Execute(gctx, executor.Request{
				JobID: run.ID, TenantID: run.TenantID, JobType: string(node.Kind), Payload: []byte(prompt),
			})
			if err != nil {
				_ = board.MarkFailed(roleID)
				return nil
			}
			for _, f := range parseFindings(roleID, res.ResultText) {
				_ = board.AddFinding(roleID, f.Kind, f.Content, f.Files, f.Importance, f.Tags)
			}
			_ = board.MarkCompleted(roleID)
			return nil
		})
	}
	_ = g.Wait()

	snapshot, err := board.Snapshot()
	if err != nil {
		return failedExec(run.ID, node.ID, execID, node.Kind, retryCount, apperr.Wrap(apperr.Handler, "snapshot blackboard", err))
	}

	return types.NodeExecution{
		ID:         execID,
		RunID:      run.ID,
		NodeID:     node.ID,
		NodeKind:   node.Kind,
		Status:     types.NodeExecCompleted,
		Findings:   snapshot.Findings,
		RetryCount: retryCount,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}, nil
}

// withKnowledge stitches the knowledge store's context above the
// node-specific prompt, per the query interface the core consumes
// without implementing the underlying store.
func withKnowledge(ctx context.Context, deps Deps, run *types.Run, node types.NodeDef, prompt string) string {
	if deps.Knowledge == nil {
		return prompt
	}
	extra, err := deps.Knowledge.Query(ctx, knowledge.Query{TaskText: prompt, MaxTokens: 2000})
	if err != nil || extra == "" {
		return prompt
	}
	return extra + "\n\n" + prompt
}
