// Package blackboard implements the per-run shared JSON document swarm
// agents coordinate through: a single-writer document guarded by an
// exclusive-create lock file with a heartbeat and break-glass TTL,
// grounded on other_examples/ElhamDevelopmentStudio-entropy__store.go
// and other_examples/Jawbreaker1-CodeHackBot__coordinator.go for the
// shared-state-with-lease shape, and on the teacher's internal/db
// busy-timeout/WAL discipline for the single-writer invariant
// translated here to a filesystem lock rather than a database lock.
package blackboard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/toseekandfind/multi-agent-sandbox/internal/identifier"
	"github.com/toseekandfind/multi-agent-sandbox/pkg/types"
)

// Manager roots every run's blackboard document under Root/run-id.json
// plus a Root/run-id.lock lock file.
type Manager struct {
	Root         string
	LockTTL      time.Duration
	LockWaitPoll time.Duration
}

// NewManager returns a Manager rooted at root, creating it if absent.
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blackboard: mkdir root: %w", err)
	}
	return &Manager{Root: root, LockTTL: 30 * time.Second, LockWaitPoll: 50 * time.Millisecond}, nil
}

// Board is a handle onto one run's blackboard document.
type Board struct {
	mgr   *Manager
	runID string
}

func (m *Manager) docPath(runID string) string  { return filepath.Join(m.Root, runID+".json") }
func (m *Manager) lockPath(runID string) string { return filepath.Join(m.Root, runID+".lock") }

// Open returns a Board for runID, creating an empty document if one
// does not already exist.
func (m *Manager) Open(runID string) (*Board, error) {
	if _, err := identifier.Validate(runID, identifier.Run); err != nil {
		return nil, fmt.Errorf("blackboard: %w", err)
	}
	b := &Board{mgr: m, runID: runID}
	if _, err := os.Stat(m.docPath(runID)); os.IsNotExist(err) {
		if err := b.withLock(func(doc *types.Blackboard) error { return nil }); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Path returns the document's filesystem path, handed to agent prompts
// so they know where to read/write.
func (b *Board) Path() string { return b.mgr.docPath(b.runID) }

type lockPayload struct {
	Holder    string    `json:"holder"`
	Heartbeat time.Time `json:"heartbeat"`
}

// acquireLock exclusively creates the lock file, retrying past a
// break-glass TTL: a lock file older than LockTTL with a stale
// heartbeat is presumed abandoned by a crashed holder and is replaced.
func (b *Board) acquireLock() (*os.File, error) {
	holder := uuid.NewString()
	deadline := time.Now().Add(5 * time.Second)
	for {
		f, err := os.OpenFile(b.mgr.lockPath(b.runID), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			payload, _ := json.Marshal(lockPayload{Holder: holder, Heartbeat: time.Now()})
			_, _ = f.Write(payload)
			return f, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("blackboard: create lock: %w", err)
		}
		if b.breakGlass() {
			_ = os.Remove(b.mgr.lockPath(b.runID))
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("blackboard: timed out waiting for lock on run %s", b.runID)
		}
		time.Sleep(b.mgr.LockWaitPoll)
	}
}

// breakGlass reports whether the current lock holder's heartbeat is
// older than LockTTL, meaning it is safe to assume the holder crashed
// and steal the lock.
func (b *Board) breakGlass() bool {
	body, err := os.ReadFile(b.mgr.lockPath(b.runID))
	if err != nil {
		return false
	}
	var payload lockPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return true // unreadable lock file, treat as abandoned
	}
	return time.Since(payload.Heartbeat) > b.mgr.LockTTL
}

func (b *Board) releaseLock(f *os.File) {
	f.Close()
	_ = os.Remove(b.mgr.lockPath(b.runID))
}

// load reads the current document, returning a fresh one if absent.
func (b *Board) load() (*types.Blackboard, error) {
	body, err := os.ReadFile(b.mgr.docPath(b.runID))
	if os.IsNotExist(err) {
		return types.NewBlackboard(b.runID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("blackboard: read doc: %w", err)
	}
	var doc types.Blackboard
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("blackboard: decode doc: %w", err)
	}
	return &doc, nil
}

func (b *Board) save(doc *types.Blackboard) error {
	doc.UpdatedAt = time.Now()
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("blackboard: encode doc: %w", err)
	}
	tmp := b.mgr.docPath(b.runID) + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("blackboard: write doc: %w", err)
	}
	if err := os.Rename(tmp, b.mgr.docPath(b.runID)); err != nil {
		return fmt.Errorf("blackboard: rename doc: %w", err)
	}
	return nil
}

// withLock performs a read-modify-write under the exclusive lock,
// lazily expiring any claim chains past their TTL before invoking fn,
// so every writer enforces the "expired chains transition lazily on
// read-modify-write" invariant.
func (b *Board) withLock(fn func(doc *types.Blackboard) error) error {
	f, err := b.acquireLock()
	if err != nil {
		return err
	}
	defer b.releaseLock(f)

	doc, err := b.load()
	if err != nil {
		return err
	}
	expireStaleChains(doc)
	if err := fn(doc); err != nil {
		return err
	}
	return b.save(doc)
}

func expireStaleChains(doc *types.Blackboard) {
	now := time.Now()
	for _, chain := range doc.ClaimChains {
		if chain.Status == types.ClaimActive && now.After(chain.ExpiresAt) {
			chain.Status = types.ClaimExpired
		}
	}
}

// Snapshot returns the current document without taking the lock,
// accepting mild staleness the way readers are allowed to.
func (b *Board) Snapshot() (*types.Blackboard, error) {
	return b.load()
}

// RegisterAgent idempotently registers an agent by id.
func (b *Board) RegisterAgent(agentID, task string, interests []string) error {
	return b.withLock(func(doc *types.Blackboard) error {
		if _, exists := doc.Agents[agentID]; exists {
			return nil
		}
		doc.Agents[agentID] = &types.BlackboardAgent{
			AgentID: agentID, Task: task, State: types.AgentActive,
			HeartbeatAt: time.Now(), Interests: interests,
		}
		return nil
	})
}

// Heartbeat updates agentID's heartbeat timestamp.
func (b *Board) Heartbeat(agentID string) error {
	return b.withLock(func(doc *types.Blackboard) error {
		agent, ok := doc.Agents[agentID]
		if !ok {
			return fmt.Errorf("blackboard: unknown agent %q", agentID)
		}
		agent.HeartbeatAt = time.Now()
		return nil
	})
}

// MarkCompleted transitions an agent to the completed state.
func (b *Board) MarkCompleted(agentID string) error {
	return b.withLock(func(doc *types.Blackboard) error {
		if agent, ok := doc.Agents[agentID]; ok {
			agent.State = types.AgentCompleted
		}
		return nil
	})
}

// MarkFailed transitions an agent to the failed state.
func (b *Board) MarkFailed(agentID string) error {
	return b.withLock(func(doc *types.Blackboard) error {
		if agent, ok := doc.Agents[agentID]; ok {
			agent.State = types.AgentFailed
		}
		return nil
	})
}

// MarkStale transitions an agent to the stale state, used by the
// tiered watcher when an agent's heartbeat has lapsed.
func (b *Board) MarkStale(agentID string) error {
	return b.withLock(func(doc *types.Blackboard) error {
		if agent, ok := doc.Agents[agentID]; ok {
			agent.State = types.AgentStale
		}
		return nil
	})
}

// Reactivate transitions an agent back to active with a fresh
// heartbeat, used by the watcher's tier-2 restart decision to recover
// a stale or failed agent without losing its registration, findings
// cursor, or task assignment.
func (b *Board) Reactivate(agentID string) error {
	return b.withLock(func(doc *types.Blackboard) error {
		agent, ok := doc.Agents[agentID]
		if !ok {
			return fmt.Errorf("blackboard: unknown agent %q", agentID)
		}
		agent.State = types.AgentActive
		agent.HeartbeatAt = time.Now()
		return nil
	})
}

// AddFinding appends a finding, requiring agentID to already be
// registered.
func (b *Board) AddFinding(agentID, kind, content string, files []string, importance string, tags []string) error {
	return b.withLock(func(doc *types.Blackboard) error {
		if _, ok := doc.Agents[agentID]; !ok {
			return fmt.Errorf("blackboard: finding from unregistered agent %q", agentID)
		}
		doc.Findings = append(doc.Findings, types.Finding{
			ID: uuid.NewString(), AgentID: agentID, Kind: kind, Content: content,
			Files: files, Importance: importance, Tags: tags, CreatedAt: time.Now(),
		})
		return nil
	})
}

// AddMessage appends a free-form message.
func (b *Board) AddMessage(agentID, content string) error {
	return b.withLock(func(doc *types.Blackboard) error {
		doc.Messages = append(doc.Messages, types.Message{
			ID: uuid.NewString(), AgentID: agentID, Content: content, CreatedAt: time.Now(),
		})
		return nil
	})
}

// ReadDelta returns findings added since agentID's cursor and advances it.
func (b *Board) ReadDelta(agentID string) ([]types.Finding, error) {
	var delta []types.Finding
	err := b.withLock(func(doc *types.Blackboard) error {
		agent, ok := doc.Agents[agentID]
		if !ok {
			return fmt.Errorf("blackboard: unknown agent %q", agentID)
		}
		if agent.Cursor < len(doc.Findings) {
			delta = append(delta, doc.Findings[agent.Cursor:]...)
			agent.Cursor = len(doc.Findings)
		}
		return nil
	})
	return delta, err
}

// ClaimConflict describes why a claim_chain request was blocked.
type ClaimConflict struct {
	Chains []types.ClaimChain
}

func (c *ClaimConflict) Error() string {
	return fmt.Sprintf("blackboard: %d conflicting active claim chain(s)", len(c.Chains))
}

// ClaimChain atomically reserves files for agentID, or returns a
// *ClaimConflict naming the overlapping active chains.
func (b *Board) ClaimChain(agentID string, files []string, reason string, ttl time.Duration) (types.ClaimChain, error) {
	var result types.ClaimChain
	err := b.withLock(func(doc *types.Blackboard) error {
		if _, ok := doc.Agents[agentID]; !ok {
			return fmt.Errorf("blackboard: claim from unregistered agent %q", agentID)
		}

		claimed := make(map[string]bool, len(files))
		for _, f := range files {
			claimed[f] = true
		}

		var conflicts []types.ClaimChain
		for _, chain := range doc.ClaimChains {
			if chain.Status != types.ClaimActive {
				continue
			}
			for _, f := range chain.Files {
				if claimed[f] {
					conflicts = append(conflicts, *chain)
					break
				}
			}
		}
		if len(conflicts) > 0 {
			return &ClaimConflict{Chains: conflicts}
		}

		chain := &types.ClaimChain{
			ChainID: uuid.NewString(), AgentID: agentID, Files: files, Reason: reason,
			ClaimedAt: time.Now(), ExpiresAt: time.Now().Add(ttl), Status: types.ClaimActive,
		}
		doc.ClaimChains[chain.ChainID] = chain
		result = *chain
		return nil
	})
	return result, err
}

// ReleaseChain transitions a chain to released.
func (b *Board) ReleaseChain(agentID, chainID string) error {
	return b.setChainStatus(agentID, chainID, types.ClaimReleased)
}

// CompleteChain transitions a chain to completed.
func (b *Board) CompleteChain(agentID, chainID string) error {
	return b.setChainStatus(agentID, chainID, types.ClaimCompleted)
}

func (b *Board) setChainStatus(agentID, chainID string, status types.ClaimChainStatus) error {
	return b.withLock(func(doc *types.Blackboard) error {
		chain, ok := doc.ClaimChains[chainID]
		if !ok {
			return fmt.Errorf("blackboard: unknown chain %q", chainID)
		}
		if chain.AgentID != agentID {
			return fmt.Errorf("blackboard: chain %q is not owned by agent %q", chainID, agentID)
		}
		chain.Status = status
		return nil
	})
}

// EnqueueTask appends a self-assignable task queue item.
func (b *Board) EnqueueTask(content string) (types.TaskQueueItem, error) {
	item := types.TaskQueueItem{ID: uuid.NewString(), Content: content, CreatedAt: time.Now()}
	err := b.withLock(func(doc *types.Blackboard) error {
		doc.TaskQueue = append(doc.TaskQueue, item)
		return nil
	})
	return item, err
}

// ClaimTask self-assigns the first unclaimed task queue item to agentID.
func (b *Board) ClaimTask(agentID string) (types.TaskQueueItem, bool, error) {
	var claimed types.TaskQueueItem
	found := false
	err := b.withLock(func(doc *types.Blackboard) error {
		for i := range doc.TaskQueue {
			if doc.TaskQueue[i].ClaimedBy == "" {
				doc.TaskQueue[i].ClaimedBy = agentID
				claimed = doc.TaskQueue[i]
				found = true
				return nil
			}
		}
		return nil
	})
	return claimed, found, err
}
