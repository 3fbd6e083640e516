package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/toseekandfind/multi-agent-sandbox/internal/httpapi/response"
)

const defaultRequestsPerMinute = 120

// RateLimit is a per-tenant fixed-window limiter backed by Redis (one
// counter per tenant that expires 60 seconds after its first request),
// grounded on the loghunter reference's RateLimit middleware. Unlike
// the reference's abstract cache.Cache dependency, this talks to
// *redis.Client directly since no cache package exists elsewhere in
// this tree to justify introducing one.
type RateLimit struct {
	rdb            *redis.Client
	requestsPerMin int
}

// NewRateLimit builds a RateLimit. rdb may be nil, in which case Limit
// is a no-op pass-through (single-node/local deployments running
// without Redis do not get rate limiting, they get workers/queue depth
// as their natural backpressure instead).
func NewRateLimit(rdb *redis.Client, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{rdb: rdb, requestsPerMin: requestsPerMin}
}

// Limit applies the window keyed on the authenticated tenant ID.
// Requests without a resolved identity (Authenticate did
// not run first) pass through unlimited.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.rdb == nil {
			next.ServeHTTP(w, r)
			return
		}
		id, ok := GetIdentity(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key := "ratelimit:" + id.TenantID
		ctx := r.Context()
		count, err := rl.rdb.Incr(ctx, key).Result()
		if err != nil {
			// Fail open: a Redis outage should not take the API down.
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			rl.rdb.Expire(ctx, key, 60*time.Second)
		}

		remaining := rl.requestsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(60*time.Second).Unix()))

		if count > int64(rl.requestsPerMin) {
			w.Header().Set("Retry-After", "60")
			response.Error(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
