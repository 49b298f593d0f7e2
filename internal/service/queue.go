package service

import (
	"context"
	"fmt"
	"time"
)

// DefaultQueueCapacity bounds the fragments buffered between producer and consumer.
const DefaultQueueCapacity = 20000

// Queue is a bounded FIFO of raw record fragments shared by exactly one
// producer and one consumer. Only the producer may call Put and Close.
type Queue struct {
	ch chan string
}

// NewQueue creates a queue holding at most capacity fragments.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{ch: make(chan string, capacity)}
}

// Put enqueues a fragment, blocking while the queue is full. It fails with
// ErrQueueSaturation if no room frees up within timeout.
func (q *Queue) Put(ctx context.Context, fragment string, timeout time.Duration) error {
	select {
	case q.ch <- fragment:
		return nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case q.ch <- fragment:
		return nil
	case <-t.C:
		return fmt.Errorf("%w: full for %s", ErrQueueSaturation, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get dequeues the next fragment, blocking while the queue is empty. It fails
// with ErrQueueStarvation if nothing arrives within timeout and with
// ErrQueueClosed once the producer closed the queue and it is drained.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case f, ok := <-q.ch:
		if !ok {
			return "", ErrQueueClosed
		}
		return f, nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case f, ok := <-q.ch:
		if !ok {
			return "", ErrQueueClosed
		}
		return f, nil
	case <-t.C:
		return "", fmt.Errorf("%w: nothing received for %s", ErrQueueStarvation, timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close marks the end of the stream.
func (q *Queue) Close() {
	close(q.ch)
}

// Len returns the number of buffered fragments.
func (q *Queue) Len() int {
	return len(q.ch)
}
