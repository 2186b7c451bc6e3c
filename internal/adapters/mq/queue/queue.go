// Package queue provides the bounded in-memory queue that feeds background
// notification delivery.
package queue

import (
	"context"
	"sync"

	"github.com/okian/cadenza/pkg/metrics"
)

const defaultQueueCapacity = 1024

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue[T any] interface {
	// Enqueue adds an item. It returns false when the queue is full or closed.
	Enqueue(ctx context.Context, item T) bool

	// Dequeue returns the receive side of the queue. The channel is closed
	// when the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan T

	// Len returns the number of queued items.
	Len(ctx context.Context) int

	// Close stops accepting items. Queued items remain readable.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue[T any] struct {
	items    chan T
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a queue.
func NewInMemoryQueue[T any](opts ...Option) *InMemoryQueue[T] {
	cfg := config{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(&cfg)
	}

	q := &InMemoryQueue[T]{
		items:    make(chan T, cfg.capacity),
		capacity: cfg.capacity,
	}

	metrics.UpdateNotifyQueueCapacity(q.capacity)
	metrics.UpdateNotifyQueueSize(0)
	return q
}

func (q *InMemoryQueue[T]) Enqueue(ctx context.Context, item T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordNotifyDropped("closed")
		return false
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordNotifyDropped("context_cancelled")
		return false
	}

	select {
	case q.items <- item:
		metrics.RecordNotifyEnqueued()
		metrics.UpdateNotifyQueueSize(len(q.items))
		return true
	default:
		metrics.RecordNotifyDropped("queue_full")
		return false
	}
}

func (q *InMemoryQueue[T]) Dequeue(context.Context) <-chan T {
	return q.items
}

func (q *InMemoryQueue[T]) Len(context.Context) int {
	size := len(q.items)
	metrics.UpdateNotifyQueueSize(size)
	return size
}

func (q *InMemoryQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

func (q *InMemoryQueue[T]) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
