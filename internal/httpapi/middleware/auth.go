package middleware

import (
	"net/http"
	"strings"

	"github.com/toseekandfind/multi-agent-sandbox/internal/httpapi/response"
	"github.com/toseekandfind/multi-agent-sandbox/internal/tenant"
)

// Auth resolves the tenant credential header into a tenant.Identity,
// grounded on the loghunter reference's bearer-token Auth middleware
// but delegating the bcrypt/lookup work to the shared
// internal/tenant.Resolver instead of reimplementing it against a
// store interface local to the HTTP package.
type Auth struct {
	resolver *tenant.Resolver
}

// NewAuth wraps resolver as HTTP middleware.
func NewAuth(resolver *tenant.Resolver) *Auth {
	return &Auth{resolver: resolver}
}

// Authenticate validates the tenant credential header and sets the
// resolved identity in the request context. Unknown credential -> 401,
// per spec.md's "Unknown credential -> 401" rule.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractCredential(r)
		id, err := a.resolver.Resolve(r.Context(), token)
		if err != nil {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "missing or invalid tenant credential", nil)
			return
		}
		r = r.WithContext(SetIdentity(r.Context(), id))
		next.ServeHTTP(w, r)
	})
}

// RequireScope returns middleware that 403s unless the resolved
// identity was granted scope (or admin, which implies every scope).
func (a *Auth) RequireScope(scope tenant.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := GetIdentity(r)
			if !ok || !id.HasScope(scope) {
				response.Error(w, http.StatusForbidden, "FORBIDDEN", "insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractCredential reads the tenant credential from an Authorization:
// Bearer header, falling back to X-API-Key for callers that cannot set
// Authorization (e.g. some webhook relays).
func extractCredential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.Header.Get("X-API-Key")
}
