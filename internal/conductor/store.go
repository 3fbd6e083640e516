package conductor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/store"
	"github.com/toseekandfind/multi-agent-sandbox/pkg/types"
)

const (
	runsCollection        = "runs"
	execsCollection       = "node_executions"
	decisionsCollection   = "decisions"
	promptCacheCollection = "node_prompt_cache"
)

// promptCacheKey scopes a cached result to the tenant and node that
// produced it, so two tenants (or two distinct nodes that happen to
// render the same prompt) never share a cache entry — the same
// scoping tenant/store.go uses for API key prefixes.
func promptCacheKey(tenantID, nodeID, promptHash string) string {
	return tenantID + "/" + nodeID + "/" + promptHash
}

// Store persists run, node-execution, and decision records. It is a
// thin JSON-over-backend/store layer, the same pattern jobstore uses
// for jobs, kept separate because runs have a richer sub-record model
// (many node executions and decisions per run).
type Store struct {
	backing store.Store
}

// NewStore wraps backing as a conductor Store.
func NewStore(backing store.Store) *Store {
	return &Store{backing: backing}
}

func (s *Store) SaveRun(ctx context.Context, run *types.Run) error {
	body, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("conductor: encode run: %w", err)
	}
	if _, err := s.backing.Put(ctx, runsCollection, run.ID, body); err != nil {
		return fmt.Errorf("conductor: save run: %w", err)
	}
	return nil
}

// ListRuns returns every run belonging to tenantID, for the "list
// agents (swarm)" HTTP capability's per-run blackboard summaries.
func (s *Store) ListRuns(ctx context.Context, tenantID string) ([]*types.Run, error) {
	res, err := s.backing.List(ctx, store.ListOptions{Collection: runsCollection, Limit: 10000})
	if err != nil {
		return nil, fmt.Errorf("conductor: list runs: %w", err)
	}
	var out []*types.Run
	for _, rec := range res.Records {
		var run types.Run
		if err := json.Unmarshal(rec.Value, &run); err != nil {
			continue
		}
		if run.TenantID == tenantID {
			out = append(out, &run)
		}
	}
	return out, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*types.Run, error) {
	rec, err := s.backing.Get(ctx, runsCollection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("conductor: run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("conductor: get run: %w", err)
	}
	var run types.Run
	if err := json.Unmarshal(rec.Value, &run); err != nil {
		return nil, fmt.Errorf("conductor: decode run: %w", err)
	}
	return &run, nil
}

func (s *Store) SaveNodeExecution(ctx context.Context, exec *types.NodeExecution) error {
	body, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("conductor: encode node execution: %w", err)
	}
	if _, err := s.backing.Put(ctx, execsCollection, exec.ID, body); err != nil {
		return fmt.Errorf("conductor: save node execution: %w", err)
	}
	return nil
}

func (s *Store) ListNodeExecutions(ctx context.Context, runID string) ([]types.NodeExecution, error) {
	res, err := s.backing.List(ctx, store.ListOptions{Collection: execsCollection, Limit: 10000})
	if err != nil {
		return nil, fmt.Errorf("conductor: list node executions: %w", err)
	}
	var out []types.NodeExecution
	for _, rec := range res.Records {
		var e types.NodeExecution
		if err := json.Unmarshal(rec.Value, &e); err != nil {
			continue
		}
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

// CachePromptResult persists a completed single-node execution so a
// later run of the same workflow (spec.md's "conductor cached re-fire"
// scenario) can skip re-invoking the executor for a node whose rendered
// prompt is byte-identical. This is a separate collection rather than a
// scan over node_executions because node_executions has no index by
// prompt_hash and List has no way to filter on it; keying this
// collection directly by tenant/node/hash makes the lookup an O(1) Get.
func (s *Store) CachePromptResult(ctx context.Context, tenantID, nodeID, promptHash string, exec types.NodeExecution) error {
	body, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("conductor: encode cached prompt result: %w", err)
	}
	if _, err := s.backing.Put(ctx, promptCacheCollection, promptCacheKey(tenantID, nodeID, promptHash), body); err != nil {
		return fmt.Errorf("conductor: cache prompt result: %w", err)
	}
	return nil
}

// LookupPromptCache returns the previously cached completed execution
// for tenantID/nodeID/promptHash, if any. ok is false, not an error,
// when nothing has been cached yet.
func (s *Store) LookupPromptCache(ctx context.Context, tenantID, nodeID, promptHash string) (exec types.NodeExecution, ok bool, err error) {
	rec, err := s.backing.Get(ctx, promptCacheCollection, promptCacheKey(tenantID, nodeID, promptHash))
	if errors.Is(err, store.ErrNotFound) {
		return types.NodeExecution{}, false, nil
	}
	if err != nil {
		return types.NodeExecution{}, false, fmt.Errorf("conductor: lookup cached prompt result: %w", err)
	}
	if err := json.Unmarshal(rec.Value, &exec); err != nil {
		return types.NodeExecution{}, false, fmt.Errorf("conductor: decode cached prompt result: %w", err)
	}
	return exec, true, nil
}

func (s *Store) AppendDecision(ctx context.Context, d types.Decision) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("conductor: encode decision: %w", err)
	}
	if _, err := s.backing.Put(ctx, decisionsCollection, d.ID, body); err != nil {
		return fmt.Errorf("conductor: append decision: %w", err)
	}
	return nil
}
