// Package worker runs a pool of goroutines that drain a queue through a
// handler.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/cadenza/pkg/logger"
	"github.com/okian/cadenza/pkg/metrics"
)

const (
	defaultWorkerMultiplier = 2
	poolShutdownTimeout     = 30 * time.Second
)

// Handler processes one item. Errors are logged by the worker and never
// stop it.
type Handler[T any] func(ctx context.Context, item T) error

// Queue defines how workers receive items.
type Queue[T any] interface {
	Dequeue(ctx context.Context) <-chan T
	Len(ctx context.Context) int
}

// Worker processes items from a queue.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)

	// Shutdown stops the worker without waiting for the queue to drain.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker[T any] struct {
	queue  Queue[T]
	handle Handler[T]
	name   string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker.
func NewInMemoryWorker[T any](q Queue[T], handle Handler[T], opts ...Option) *InMemoryWorker[T] {
	s := settings{name: "worker", logger: logger.Get().Named("worker")}
	for _, opt := range opts {
		opt(&s)
	}
	return &InMemoryWorker[T]{
		queue:    q,
		handle:   handle,
		name:     s.name,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   s.logger.With(logger.String("worker", s.name)),
	}
}

// Run starts the worker loop.
func (w *InMemoryWorker[T]) Run(ctx context.Context) {
	defer close(w.done)

	items := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			w.queue.Len(ctx)
			if err := w.handle(ctx, item); err != nil {
				w.logger.Warn(ctx, "handler failed", logger.Error(err))
			}
		}
	}
}

// Shutdown stops the worker.
func (w *InMemoryWorker[T]) Shutdown(ctx context.Context) error {
	w.stop()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker[T]) stop() {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
}

// Done is closed when Run returns.
func (w *InMemoryWorker[T]) Done() <-chan struct{} { return w.done }

// Pool manages multiple workers over one queue.
type Pool[T any] struct {
	workers []*InMemoryWorker[T]
	queue   Queue[T]
	logger  logger.Logger
}

// NewPool creates a pool. A count below 1 selects a multiple of NumCPU.
func NewPool[T any](workerCount int, q Queue[T], handle Handler[T], opts ...Option) *Pool[T] {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}
	s := settings{name: "worker", logger: logger.Get().Named("worker-pool")}
	for _, opt := range opts {
		opt(&s)
	}

	p := &Pool[T]{
		workers: make([]*InMemoryWorker[T], workerCount),
		queue:   q,
		logger:  s.logger,
	}
	for i := range p.workers {
		p.workers[i] = NewInMemoryWorker[T](q, handle,
			WithName(s.name+"-"+strconv.Itoa(i)),
			WithLogger(s.logger),
		)
	}
	return p
}

// Size returns the number of workers.
func (p *Pool[T]) Size() int { return len(p.workers) }

// Start starts all workers.
func (p *Pool[T]) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	metrics.UpdateNotifyWorkers(len(p.workers))
}

// Shutdown closes the queue and lets workers drain it. Workers still busy
// when ctx expires are stopped.
func (p *Pool[T]) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut int
	for _, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			timedOut++
			w.stop()
		}
	}
	metrics.UpdateNotifyWorkers(0)
	if timedOut > 0 {
		p.logger.Warn(ctx, "workers stopped before draining", logger.Int("count", timedOut))
		return fmt.Errorf("%d workers did not drain: %w", timedOut, ctx.Err())
	}
	return nil
}
