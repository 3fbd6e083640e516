package middleware

import (
	"context"
	"net/http"

	"github.com/toseekandfind/multi-agent-sandbox/internal/tenant"
)

type contextKey string

const identityKey contextKey = "identity"

// SetIdentity attaches id to ctx, exported so tests and the CLI's
// in-process request construction can build a context without going
// through Authenticate.
func SetIdentity(ctx context.Context, id tenant.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the identity Authenticate resolved for r.
func GetIdentity(r *http.Request) (tenant.Identity, bool) {
	id, ok := r.Context().Value(identityKey).(tenant.Identity)
	return id, ok
}
