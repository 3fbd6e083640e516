// Package queue defines the enqueue/receive/delete primitive the
// dispatch engine consumes. Two implementations are provided: an
// in-process memory queue for single-node deployments and tests, and a
// Redis-backed queue for multi-process deployments.
package queue

import (
	"context"
	"time"
)

// Message is one leased delivery. Ack deletes it; Nack returns the
// lease early so it becomes visible again before the timeout expires.
type Message struct {
	ID   string
	Body []byte
	// ReceiptHandle identifies this particular lease, so a heartbeat or
	// Ack/Nack call always targets the delivery that produced it, not a
	// stale one after redelivery.
	ReceiptHandle string
}

// Queue is the minimal contract the dispatch engine needs: enqueue a
// message body, receive up to max messages leased for visibilityTimeout,
// extend a lease (heartbeat), and delete (ack) or release (nack) one.
type Queue interface {
	Enqueue(ctx context.Context, body []byte) error
	Receive(ctx context.Context, max int, visibilityTimeout time.Duration) ([]Message, error)
	Heartbeat(ctx context.Context, receiptHandle string, extend time.Duration) error
	Delete(ctx context.Context, receiptHandle string) error
	Release(ctx context.Context, receiptHandle string) error
}
