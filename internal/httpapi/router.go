// Package httpapi is the tenant-facing HTTP surface of spec.md §6,
// grounded on the loghunter reference's chi router: a Dependencies
// struct bundling middleware and handlers, mounted through layered
// route groups (public, authenticated, admin-scoped) rather than
// per-route middleware chains.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/toseekandfind/multi-agent-sandbox/internal/httpapi/middleware"
	"github.com/toseekandfind/multi-agent-sandbox/internal/httpapi/response"
	"github.com/toseekandfind/multi-agent-sandbox/internal/tenant"
)

// Dependencies holds every handler and middleware the router mounts.
// A nil handler field renders as 501 rather than panicking, so a
// partially wired process (e.g. a test suite that leaves Events unset)
// can still serve a router.
type Dependencies struct {
	Auth      *middleware.Auth
	RateLimit *middleware.RateLimit
	Log       *slog.Logger

	Jobs   *JobHandlers
	Health *HealthHandlers
	Swarm  *SwarmHandlers
	Events *EventHandlers
}

// NewRouter builds the chi router with the full middleware stack and
// route table.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger(deps.Log))
	r.Use(middleware.Recovery(deps.Log))

	r.Get("/v1/health", orNotImplemented(handlerOrNil(deps.Health, (*HealthHandlers).Health)))

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/v1/jobs", orNotImplemented(handlerOrNil(deps.Jobs, (*JobHandlers).Submit)))
		r.Get("/v1/jobs", orNotImplemented(handlerOrNil(deps.Jobs, (*JobHandlers).List)))
		r.Get("/v1/jobs/{jobID}", orNotImplemented(handlerOrNil(deps.Jobs, (*JobHandlers).Get)))

		r.Get("/v1/swarm/agents", orNotImplemented(handlerOrNil(deps.Swarm, (*SwarmHandlers).ListAgents)))

		r.Get("/v1/events", orNotImplemented(handlerOrNil(deps.Events, (*EventHandlers).Stream)))

		// Admin routes: none of the current capabilities are
		// admin-scoped, but the group is left in place so a future
		// tenant-management or webhook-registration endpoint has
		// somewhere to mount without re-deriving the middleware chain.
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(tenant.ScopeAdmin))
		})
	})

	return r
}

// handlerOrNil binds method to h, or returns nil if h itself is nil,
// so orNotImplemented can tell "not wired" from "wired".
func handlerOrNil[T any](h *T, method func(*T, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	if h == nil {
		return nil
	}
	return func(w http.ResponseWriter, r *http.Request) { method(h, w, r) }
}

func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "endpoint not yet implemented", nil)
	}
}
