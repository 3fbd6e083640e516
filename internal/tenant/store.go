package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/toseekandfind/multi-agent-sandbox/internal/apperr"
	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/store"
)

const collection = "tenant_keys"

// StoreLookup implements Lookup on top of a backend store.Store,
// keying API key records by their public prefix.
type StoreLookup struct {
	st store.Store
}

// NewStoreLookup wraps st as a Lookup.
func NewStoreLookup(st store.Store) *StoreLookup {
	return &StoreLookup{st: st}
}

var _ Lookup = (*StoreLookup)(nil)

func (l *StoreLookup) LookupByPrefix(ctx context.Context, prefix string) (APIKeyRecord, error) {
	rec, err := l.st.Get(ctx, collection, prefix)
	if errors.Is(err, store.ErrNotFound) {
		return APIKeyRecord{}, apperr.New(apperr.NotFound, "no API key with that prefix")
	}
	if err != nil {
		return APIKeyRecord{}, fmt.Errorf("tenant: lookup: %w", err)
	}
	var out APIKeyRecord
	if err := json.Unmarshal(rec.Value, &out); err != nil {
		return APIKeyRecord{}, fmt.Errorf("tenant: decode key record: %w", err)
	}
	return out, nil
}

// Save persists rec so it becomes visible to LookupByPrefix.
func (l *StoreLookup) Save(ctx context.Context, rec APIKeyRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("tenant: encode key record: %w", err)
	}
	if _, err := l.st.Put(ctx, collection, rec.KeyPrefix, body); err != nil {
		return fmt.Errorf("tenant: save: %w", err)
	}
	return nil
}

// Revoke marks the record at prefix revoked so future Resolve calls fail.
func (l *StoreLookup) Revoke(ctx context.Context, prefix string) error {
	rec, err := l.LookupByPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	rec.Revoked = true
	return l.Save(ctx, rec)
}
