package httpapi

import (
	"context"
	"net/http"

	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/blob"
	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/queue"
	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/store"
	"github.com/toseekandfind/multi-agent-sandbox/internal/httpapi/response"
)

// Version is set at build time via -ldflags; "dev" otherwise.
var Version = "dev"

// HealthHandlers implements the "Health" capability of spec.md §6.
type HealthHandlers struct {
	store store.Store
	q     queue.Queue
	blob  blob.Store
}

// NewHealthHandlers wires the three backends the health probe reports on.
func NewHealthHandlers(s store.Store, q queue.Queue, b blob.Store) *HealthHandlers {
	return &HealthHandlers{store: s, q: q, blob: b}
}

type dependencyStatus struct {
	Queue string `json:"queue"`
	Store string `json:"store"`
	Blob  string `json:"blob"`
}

type healthResponse struct {
	OK           bool             `json:"ok"`
	Version      string           `json:"version"`
	Dependencies dependencyStatus `json:"dependencies"`
}

// Health handles GET /v1/health. It never fails the HTTP call itself;
// a degraded dependency is reported in the body with a 503 status so a
// load balancer's health check and a human reading the body agree.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deps := dependencyStatus{
		Store: checkStore(ctx, h.store),
		Queue: checkQueue(h.q),
		Blob:  checkBlob(ctx, h.blob),
	}
	ok := deps.Store == "ok" && deps.Queue == "ok" && deps.Blob == "ok"

	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	body := healthResponse{OK: ok, Version: Version, Dependencies: deps}
	if ok {
		response.JSON(w, body)
		return
	}
	w.WriteHeader(status)
	response.JSON(w, body)
}

func checkStore(ctx context.Context, s store.Store) string {
	if s == nil {
		return "unconfigured"
	}
	if _, err := s.List(ctx, store.ListOptions{Collection: "jobs", Limit: 1}); err != nil {
		return "degraded"
	}
	return "ok"
}

// checkQueue has no side-effect-free probe available on the minimal
// Queue interface (Receive leases a real message), so liveness here
// is limited to "a queue implementation is wired at all". A deeper
// probe would need a Queue.Ping method, which is not part of the
// dispatch engine's contract and would exist only for this check.
func checkQueue(q queue.Queue) string {
	if q == nil {
		return "unconfigured"
	}
	return "ok"
}

func checkBlob(ctx context.Context, b blob.Store) string {
	if b == nil {
		return "unconfigured"
	}
	if _, err := b.Exists(ctx, "__healthcheck__"); err != nil {
		return "degraded"
	}
	return "ok"
}
