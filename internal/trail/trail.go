// Package trail is the append-only trail/metric ledger, grounded on the
// teacher's internal/analytics and internal/db append-only
// RecordEvent pattern. Strength is written raw and decayed only at
// read time (write-raw/decay-on-read, per the Open Questions
// resolution). Each trail is written with its own durable Put before
// Record returns; writes are not batched.
package trail

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/store"
	"github.com/toseekandfind/multi-agent-sandbox/pkg/types"
)

const collection = "trails"

const defaultHalfLife = 7 * 24 * time.Hour

// Ledger writes each trail through the backing store's Put before
// acknowledging the caller, and answers decayed-strength queries at
// read time.
type Ledger struct {
	backing  store.Store
	halfLife time.Duration
}

// New returns a Ledger. halfLife of zero uses the 7-day default.
func New(backing store.Store, halfLife time.Duration) *Ledger {
	if halfLife <= 0 {
		halfLife = defaultHalfLife
	}
	return &Ledger{backing: backing, halfLife: halfLife}
}

// Record appends a new trail. It writes through immediately: each call
// is one durable Put on the backing store, and trails from concurrent
// callers are not grouped into a shared write.
func (l *Ledger) Record(ctx context.Context, t types.Trail) (types.Trail, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	body, err := json.Marshal(t)
	if err != nil {
		return types.Trail{}, fmt.Errorf("trail: encode: %w", err)
	}
	if _, err := l.backing.Put(ctx, collection, t.ID, body); err != nil {
		return types.Trail{}, fmt.Errorf("trail: record: %w", err)
	}
	return t, nil
}

// QueryOptions narrows a trail read.
type QueryOptions struct {
	Location string
	Scent    types.Scent
	Since    time.Time
	Limit    int
}

// Scored pairs a trail with its decayed effective strength.
type Scored struct {
	Trail             types.Trail
	EffectiveStrength float64
}

// Query returns trails matching opts, each with EffectiveStrength =
// Strength * decay(now - CreatedAt), decay being an exponential half
// life. Expired trails (past ExpiresAt) are filtered out.
func (l *Ledger) Query(ctx context.Context, opts QueryOptions) ([]Scored, error) {
	res, err := l.backing.List(ctx, store.ListOptions{Collection: collection, Limit: 100000})
	if err != nil {
		return nil, fmt.Errorf("trail: query: %w", err)
	}

	now := time.Now()
	var out []Scored
	for _, rec := range res.Records {
		var t types.Trail
		if err := json.Unmarshal(rec.Value, &t); err != nil {
			continue
		}
		if opts.Location != "" && t.Location != opts.Location {
			continue
		}
		if opts.Scent != "" && t.Scent != opts.Scent {
			continue
		}
		if !opts.Since.IsZero() && t.CreatedAt.Before(opts.Since) {
			continue
		}
		if t.ExpiresAt != nil && now.After(*t.ExpiresAt) {
			continue
		}
		out = append(out, Scored{Trail: t, EffectiveStrength: t.Strength * decay(now.Sub(t.CreatedAt), l.halfLife)})
	}

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func decay(age time.Duration, halfLife time.Duration) float64 {
	if age <= 0 {
		return 1.0
	}
	return math.Pow(0.5, age.Hours()/halfLife.Hours())
}

// Compact deletes trails whose ExpiresAt has passed. Query never calls
// it (expired trails are only filtered out there), and cmd/conductor
// does not schedule it.
func (l *Ledger) Compact(ctx context.Context) (int, error) {
	res, err := l.backing.List(ctx, store.ListOptions{Collection: collection, Limit: 100000})
	if err != nil {
		return 0, fmt.Errorf("trail: compact: %w", err)
	}
	now := time.Now()
	removed := 0
	for _, rec := range res.Records {
		var t types.Trail
		if err := json.Unmarshal(rec.Value, &t); err != nil {
			continue
		}
		if t.ExpiresAt != nil && now.After(*t.ExpiresAt) {
			if err := l.backing.Delete(ctx, collection, t.ID); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
