// Package redisqueue is a Redis-backed Queue implementation for
// multi-process deployments. Ready work sits in a list; a receive pops
// it into a sorted set scored by its visibility deadline, and every
// later receive first requeues anything whose deadline lapsed without
// an ack.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/queue"
)

// Queue is a Redis-backed queue rooted at a key prefix, so one Redis
// instance can host several independent queues.
type Queue struct {
	rdb    *redis.Client
	prefix string
}

// New returns a Queue that stores its state under keys beginning with
// prefix (e.g. "orch:jobs:default").
func New(rdb *redis.Client, prefix string) *Queue {
	return &Queue{rdb: rdb, prefix: prefix}
}

var _ queue.Queue = (*Queue)(nil)

func (q *Queue) readyKey() string    { return q.prefix + ":ready" }
func (q *Queue) inflightKey() string { return q.prefix + ":inflight" }
func (q *Queue) bodyKey(id string) string { return q.prefix + ":body:" + id }

// Enqueue pushes a new message body onto the ready list.
func (q *Queue) Enqueue(ctx context.Context, body []byte) error {
	id := uuid.NewString()
	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, q.bodyKey(id), body, 0)
	pipe.LPush(ctx, q.readyKey(), id)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisqueue: enqueue: %w", err)
	}
	return nil
}

// Receive first requeues any inflight message whose deadline has
// passed, then pops up to max ready messages, moving each into the
// inflight sorted set scored by its new deadline.
func (q *Queue) Receive(ctx context.Context, max int, visibilityTimeout time.Duration) ([]queue.Message, error) {
	if err := q.reclaimExpired(ctx); err != nil {
		return nil, err
	}

	var out []queue.Message
	for i := 0; i < max; i++ {
		id, err := q.rdb.RPop(ctx, q.readyKey()).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("redisqueue: receive: %w", err)
		}

		receipt := uuid.NewString()
		deadline := time.Now().Add(visibilityTimeout)
		member := receipt + ":" + id
		if err := q.rdb.ZAdd(ctx, q.inflightKey(), redis.Z{
			Score:  float64(deadline.UnixNano()),
			Member: member,
		}).Err(); err != nil {
			return out, fmt.Errorf("redisqueue: lease: %w", err)
		}

		body, err := q.rdb.Get(ctx, q.bodyKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			// Body evaporated (e.g. TTL); drop this lease and continue.
			q.rdb.ZRem(ctx, q.inflightKey(), member)
			continue
		}
		if err != nil {
			return out, fmt.Errorf("redisqueue: fetch body: %w", err)
		}

		out = append(out, queue.Message{
			ID:            id,
			Body:          body,
			ReceiptHandle: member,
		})
	}
	return out, nil
}

// reclaimExpired moves any inflight member past its deadline back onto
// the ready list. It is the sole redelivery mechanism; there is no
// separate reconciler process for this queue.
func (q *Queue) reclaimExpired(ctx context.Context) error {
	now := float64(time.Now().UnixNano())
	members, err := q.rdb.ZRangeByScore(ctx, q.inflightKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return fmt.Errorf("redisqueue: reclaim scan: %w", err)
	}
	for _, member := range members {
		id := idFromMember(member)
		if id == "" {
			continue
		}
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, q.inflightKey(), member)
		pipe.LPush(ctx, q.readyKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redisqueue: reclaim: %w", err)
		}
	}
	return nil
}

func idFromMember(member string) string {
	for i := 0; i < len(member); i++ {
		if member[i] == ':' {
			return member[i+1:]
		}
	}
	return ""
}

// Heartbeat extends an inflight message's deadline in place.
func (q *Queue) Heartbeat(ctx context.Context, receiptHandle string, extend time.Duration) error {
	score, err := q.rdb.ZScore(ctx, q.inflightKey(), receiptHandle).Result()
	if errors.Is(err, redis.Nil) || score == 0 {
		return fmt.Errorf("redisqueue: no such lease %q", receiptHandle)
	}
	if err != nil {
		return fmt.Errorf("redisqueue: heartbeat: %w", err)
	}
	deadline := time.Now().Add(extend)
	if err := q.rdb.ZAdd(ctx, q.inflightKey(), redis.Z{
		Score:  float64(deadline.UnixNano()),
		Member: receiptHandle,
	}).Err(); err != nil {
		return fmt.Errorf("redisqueue: heartbeat: %w", err)
	}
	return nil
}

// Delete acks a message: removes the lease and its body permanently.
func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	id := idFromMember(receiptHandle)
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey(), receiptHandle)
	if id != "" {
		pipe.Del(ctx, q.bodyKey(id))
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisqueue: delete: %w", err)
	}
	return nil
}

// Release nacks a message early, making it immediately visible again.
func (q *Queue) Release(ctx context.Context, receiptHandle string) error {
	id := idFromMember(receiptHandle)
	if id == "" {
		return fmt.Errorf("redisqueue: malformed receipt %q", receiptHandle)
	}
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey(), receiptHandle)
	pipe.LPush(ctx, q.readyKey(), id)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisqueue: release: %w", err)
	}
	return nil
}
