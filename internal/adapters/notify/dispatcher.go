package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/cadenza/internal/adapters/mq/queue"
	"github.com/okian/cadenza/internal/adapters/mq/worker"
	"github.com/okian/cadenza/pkg/logger"
	"github.com/okian/cadenza/pkg/metrics"
)

const (
	defaultQueueSize   = 1024
	defaultWorkerCount = 4
	defaultSendTimeout = 10 * time.Second
)

// Option applies a configuration option to the Dispatcher.
type Option func(*Dispatcher)

// WithQueueSize sets how many notifications may wait for delivery.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithWorkerCount sets the number of delivery goroutines.
func WithWorkerCount(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workerCount = n
		}
	}
}

// WithSendTimeout bounds a single delivery attempt.
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// Dispatcher queues payloads and renders and sends them on a worker pool.
// Delivery failures are logged and counted, never returned to the caller.
type Dispatcher struct {
	sender      Sender
	queue       *queue.InMemoryQueue[Payload]
	pool        *worker.Pool[Payload]
	queueSize   int
	workerCount int
	sendTimeout time.Duration
	logger      logger.Logger
}

// NewDispatcher creates a dispatcher around sender. Call Start before Notify.
func NewDispatcher(sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender:      sender,
		queueSize:   defaultQueueSize,
		workerCount: defaultWorkerCount,
		sendTimeout: defaultSendTimeout,
		logger:      logger.Get().Named("notify"),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = queue.NewInMemoryQueue[Payload](queue.WithCapacity(d.queueSize))
	d.pool = worker.NewPool[Payload](d.workerCount, d.queue, d.deliver,
		worker.WithName("notify"),
		worker.WithLogger(d.logger),
	)
	return d
}

// Start launches the workers. They stop when ctx ends or Shutdown drains.
func (d *Dispatcher) Start(ctx context.Context) {
	d.pool.Start(ctx)
}

// Notify queues p for delivery. It never blocks on the sender.
func (d *Dispatcher) Notify(ctx context.Context, p Payload) error {
	if p.To.Address == "" {
		metrics.RecordNotifyDropped("no_recipient")
		return ErrNoRecipient
	}
	if !d.queue.Enqueue(ctx, p) {
		return ErrQueueFull
	}
	return nil
}

// QueueLen returns the number of undelivered notifications.
func (d *Dispatcher) QueueLen(ctx context.Context) int {
	return d.queue.Len(ctx)
}

// Shutdown stops accepting notifications and waits for queued ones.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	return d.pool.Shutdown(ctx)
}

func (d *Dispatcher) deliver(ctx context.Context, p Payload) error {
	start := time.Now()
	defer func() {
		metrics.RecordNotifyLatency(float64(time.Since(start).Milliseconds()))
	}()

	msg, err := Render(p)
	if err != nil {
		metrics.RecordNotifyFailed(p.Category.String())
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	if err := d.sender.Send(ctx, msg); err != nil {
		metrics.RecordNotifyFailed(p.Category.String())
		return fmt.Errorf("deliver to %s: %w", p.To.Address, err)
	}
	metrics.RecordNotifySent(p.Category.String())
	return nil
}
