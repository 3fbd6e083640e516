package httpapi

import (
	"net/http"

	"github.com/toseekandfind/multi-agent-sandbox/internal/blackboard"
	"github.com/toseekandfind/multi-agent-sandbox/internal/conductor"
	"github.com/toseekandfind/multi-agent-sandbox/internal/httpapi/middleware"
	"github.com/toseekandfind/multi-agent-sandbox/internal/httpapi/response"
	"github.com/toseekandfind/multi-agent-sandbox/pkg/types"
)

// SwarmHandlers implements the "List agents (swarm)" capability of
// spec.md §6: per-run blackboard summaries for the calling tenant.
type SwarmHandlers struct {
	runs   *conductor.Store
	boards *blackboard.Manager
}

// NewSwarmHandlers wires the run index and blackboard manager needed
// to summarize a tenant's swarm runs.
func NewSwarmHandlers(runs *conductor.Store, boards *blackboard.Manager) *SwarmHandlers {
	return &SwarmHandlers{runs: runs, boards: boards}
}

// AgentSummary is one run's blackboard state, condensed for a listing
// view rather than the full document (agent findings/messages can be
// large; a caller that needs those reads the blackboard file directly).
type AgentSummary struct {
	RunID          string             `json:"run_id"`
	RunStatus      types.RunStatus    `json:"run_status"`
	ActiveAgents   int                `json:"active_agents"`
	CompletedAgents int               `json:"completed_agents"`
	FailedAgents   int                `json:"failed_agents"`
	FindingsCount  int                `json:"findings_count"`
	UpdatedAt      string             `json:"updated_at,omitempty"`
}

// ListAgents handles GET /v1/swarm/agents.
func (h *SwarmHandlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentity(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "missing tenant credential", nil)
		return
	}

	runs, err := h.runs.ListRuns(r.Context(), id.TenantID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	summaries := make([]AgentSummary, 0, len(runs))
	for _, run := range runs {
		board, err := h.boards.Open(run.ID)
		if err != nil {
			// Open creates an empty document for a run that has none,
			// so a run without a swarm node is listed with zero counts;
			// a run whose document cannot be opened is skipped.
			continue
		}
		doc, err := board.Snapshot()
		if err != nil {
			continue
		}
		summary := AgentSummary{RunID: run.ID, RunStatus: run.Status, FindingsCount: len(doc.Findings)}
		for _, agent := range doc.Agents {
			switch agent.State {
			case types.AgentActive, types.AgentStale:
				summary.ActiveAgents++
			case types.AgentCompleted:
				summary.CompletedAgents++
			case types.AgentFailed:
				summary.FailedAgents++
			}
		}
		if !doc.UpdatedAt.IsZero() {
			summary.UpdatedAt = doc.UpdatedAt.Format("2006-01-02T15:04:05Z07:00")
		}
		summaries = append(summaries, summary)
	}

	response.JSON(w, summaries)
}
