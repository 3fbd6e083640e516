package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/toseekandfind/multi-agent-sandbox/internal/apperr"
	"github.com/toseekandfind/multi-agent-sandbox/internal/dispatch"
	"github.com/toseekandfind/multi-agent-sandbox/internal/httpapi/middleware"
	"github.com/toseekandfind/multi-agent-sandbox/internal/httpapi/response"
	"github.com/toseekandfind/multi-agent-sandbox/internal/jobstore"
	"github.com/toseekandfind/multi-agent-sandbox/internal/tenant"
	"github.com/toseekandfind/multi-agent-sandbox/pkg/types"
)

// JobHandlers implements the "Submit job", "Get job", and "List jobs"
// capabilities of spec.md §6.
type JobHandlers struct {
	engine *dispatch.Engine
	jobs   *jobstore.Store
}

// NewJobHandlers wires the job capabilities against a running dispatch
// engine (for Submit, which must also enqueue delivery) and the
// underlying job store (for the read paths, which have no need to
// touch the queue).
func NewJobHandlers(engine *dispatch.Engine, jobs *jobstore.Store) *JobHandlers {
	return &JobHandlers{engine: engine, jobs: jobs}
}

type submitRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// Submit handles POST /v1/jobs.
func (h *JobHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentity(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "missing tenant credential", nil)
		return
	}
	if !id.HasScope(tenant.ScopeSubmit) {
		response.Error(w, http.StatusForbidden, "FORBIDDEN", "credential lacks submit scope", nil)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body", nil)
		return
	}
	if req.Type == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "type is required", nil)
		return
	}

	job, err := h.engine.Submit(r.Context(), id.TenantID, req.Type, req.Payload)
	if err != nil {
		writeAppError(w, err)
		return
	}
	response.Accepted(w, submitResponse{JobID: job.ID})
}

// Get handles GET /v1/jobs/{jobID}.
func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentity(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "missing tenant credential", nil)
		return
	}

	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	if job.TenantID != id.TenantID {
		// Same response as not-found: a foreign tenant's job id must not
		// leak existence.
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "job not found", nil)
		return
	}
	response.JSON(w, job)
}

// List handles GET /v1/jobs.
func (h *JobHandlers) List(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentity(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "missing tenant credential", nil)
		return
	}

	state := types.JobState(r.URL.Query().Get("state"))
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	jobs, err := h.jobs.List(r.Context(), id.TenantID, state, limit)
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.TransientBackend, "list jobs", err))
		return
	}
	response.Collection(w, jobs, response.PaginationMeta{Limit: limit, Count: len(jobs), HasMore: len(jobs) == limit})
}
