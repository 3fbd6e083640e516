// Package memqueue is an in-process Queue implementation backed by a
// mutex-guarded slice of leases. It exists for single-node deployments
// and tests; it does not survive a process restart.
package memqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toseekandfind/multi-agent-sandbox/internal/backend/queue"
)

type lease struct {
	msg       queue.Message
	visibleAt time.Time
	leased    bool
}

// Queue is a memqueue.Queue instance. The zero value is not usable; use New.
type Queue struct {
	mu      sync.Mutex
	pending []*lease
}

// New returns an empty memqueue.
func New() *Queue {
	return &Queue{}
}

var _ queue.Queue = (*Queue)(nil)

func (q *Queue) Enqueue(_ context.Context, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, &lease{
		msg: queue.Message{
			ID:   uuid.NewString(),
			Body: append([]byte(nil), body...),
		},
		visibleAt: time.Time{},
	})
	return nil
}

func (q *Queue) Receive(_ context.Context, max int, visibilityTimeout time.Duration) ([]queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var out []queue.Message
	for _, l := range q.pending {
		if len(out) >= max {
			break
		}
		if l.leased && now.Before(l.visibleAt) {
			continue
		}
		l.leased = true
		l.visibleAt = now.Add(visibilityTimeout)
		l.msg.ReceiptHandle = uuid.NewString()
		out = append(out, l.msg)
	}
	return out, nil
}

func (q *Queue) Heartbeat(_ context.Context, receiptHandle string, extend time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, l := range q.pending {
		if l.leased && l.msg.ReceiptHandle == receiptHandle {
			l.visibleAt = time.Now().Add(extend)
			return nil
		}
	}
	return fmt.Errorf("memqueue: no such lease %q", receiptHandle)
}

func (q *Queue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, l := range q.pending {
		if l.leased && l.msg.ReceiptHandle == receiptHandle {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return nil
		}
	}
	return nil
}

func (q *Queue) Release(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, l := range q.pending {
		if l.leased && l.msg.ReceiptHandle == receiptHandle {
			l.leased = false
			l.visibleAt = time.Time{}
			return nil
		}
	}
	return nil
}

// Len reports the number of messages currently tracked, leased or not.
// Test-only helper.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
