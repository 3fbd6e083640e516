// Package tenant resolves an inbound credential to a tenant identity
// and scope set, the same bcrypt-hashed-API-key pattern the teacher's
// HTTP auth middleware uses, generalized to a standalone resolver so
// both the HTTP surface and the CLI can share it.
package tenant

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/toseekandfind/multi-agent-sandbox/internal/apperr"
	"github.com/toseekandfind/multi-agent-sandbox/internal/identifier"
)

// DefaultTenantID is used for every request when auth is disabled
// (single-tenant/local deployments).
const DefaultTenantID = "default"

// Scope is a coarse permission the resolver attaches to a credential.
type Scope string

const (
	ScopeSubmit Scope = "submit"
	ScopeRead   Scope = "read"
	ScopeAdmin  Scope = "admin"
)

// Identity is what a resolved credential grants.
type Identity struct {
	TenantID  string
	KeyPrefix string
	Scopes    []string
}

// HasScope reports whether id was granted scope, or holds admin (which
// implies every other scope).
func (id Identity) HasScope(scope Scope) bool {
	for _, s := range id.Scopes {
		if s == string(ScopeAdmin) || s == string(scope) {
			return true
		}
	}
	return false
}

// APIKeyRecord is what the resolver's backing store keeps per issued
// key: the prefix is stored in the clear for lookup, the hash never is.
type APIKeyRecord struct {
	TenantID  string
	KeyPrefix string
	KeyHash   string
	Scopes    []string
	Revoked   bool
}

// Lookup fetches the record for a key prefix, or apperr.NotFound.
type Lookup interface {
	LookupByPrefix(ctx context.Context, prefix string) (APIKeyRecord, error)
}

const prefixLen = 8

// Resolver turns a bearer token into an Identity.
type Resolver struct {
	lookup      Lookup
	authDisabled bool
}

// New returns a Resolver. When authDisabled is true, Resolve always
// succeeds with DefaultTenantID and every scope, and lookup may be nil.
func New(lookup Lookup, authDisabled bool) *Resolver {
	return &Resolver{lookup: lookup, authDisabled: authDisabled}
}

// Resolve validates token against the stored bcrypt hash for its
// prefix and returns the granted Identity.
func (r *Resolver) Resolve(ctx context.Context, token string) (Identity, error) {
	if r.authDisabled {
		return Identity{
			TenantID: DefaultTenantID,
			Scopes:   []string{string(ScopeAdmin)},
		}, nil
	}
	if len(token) <= prefixLen {
		return Identity{}, apperr.New(apperr.Security, "malformed API key")
	}

	prefix := token[:prefixLen]
	rec, err := r.lookup.LookupByPrefix(ctx, prefix)
	if err != nil {
		return Identity{}, apperr.Wrap(apperr.Security, "unknown API key", err)
	}
	if rec.Revoked {
		return Identity{}, apperr.New(apperr.Security, "revoked API key")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.KeyHash), []byte(token)); err != nil {
		return Identity{}, apperr.New(apperr.Security, "invalid API key")
	}

	if _, err := identifier.Validate(rec.TenantID, identifier.Tenant); err != nil {
		return Identity{}, apperr.Wrap(apperr.Security, "stored tenant id is invalid", err)
	}

	return Identity{
		TenantID:  rec.TenantID,
		KeyPrefix: rec.KeyPrefix,
		Scopes:    rec.Scopes,
	}, nil
}

// GenerateAPIKey creates a new random token and its bcrypt hash, for
// issuance flows (CLI or admin endpoint). The returned token is shown
// to the caller exactly once; only KeyHash is persisted.
func GenerateAPIKey(tenantID string, scopes []string) (token string, rec APIKeyRecord, err error) {
	if _, err := identifier.Validate(tenantID, identifier.Tenant); err != nil {
		return "", APIKeyRecord{}, fmt.Errorf("tenant: %w", err)
	}

	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", APIKeyRecord{}, fmt.Errorf("tenant: generate key: %w", err)
	}
	token = hex.EncodeToString(raw)
	prefix := token[:prefixLen]

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", APIKeyRecord{}, fmt.Errorf("tenant: hash key: %w", err)
	}

	return token, APIKeyRecord{
		TenantID:  tenantID,
		KeyPrefix: prefix,
		KeyHash:   string(hash),
		Scopes:    scopes,
	}, nil
}
