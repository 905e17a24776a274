// Package dispatch runs background side effects on a bounded worker pool with
// exponential-backoff retries. Delivery is at-least-once: a task may run more
// than once, so tasks must be idempotent.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrClosed is returned by Submit after Stop.
var ErrClosed = errors.New("dispatcher closed")

// Task is one unit of background work.
type Task struct {
	// Name labels logs and metrics, e.g. "activity_append".
	Name string
	Run  func(ctx context.Context) error
}

// Config sizes the pool and its retry policy.
type Config struct {
	Workers        int
	QueueSize      int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Dispatcher is a fixed pool of workers reading from a bounded queue.
type Dispatcher struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan Task
	wg     sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// New creates a dispatcher. Call Start before submitting work.
func New(cfg Config, opts ...Option) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	d := &Dispatcher{
		cfg:    cfg,
		logger: slog.Default(),
		queue:  make(chan Task, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the workers. In-flight retries run on a context detached from
// ctx's cancellation so Stop can drain the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	workCtx := context.WithoutCancel(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for task := range d.queue {
				d.execute(workCtx, task)
			}
		}()
	}
}

// Run starts the workers, blocks until ctx is done, then drains and stops.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.Start(ctx)
	<-ctx.Done()
	d.Stop()
	return nil
}

// Submit enqueues task, blocking while the queue is full. It fails only when
// the dispatcher is stopped or ctx ends first.
func (d *Dispatcher) Submit(ctx context.Context, task Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- task:
		d.metrics.setQueueDepth(len(d.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new work, waits for queued tasks to finish and returns.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) execute(ctx context.Context, task Task) {
	d.metrics.setQueueDepth(len(d.queue))
	start := time.Now()
	attempts := 0

	op := func() error {
		attempts++
		return task.Run(ctx)
	}
	notify := func(err error, wait time.Duration) {
		d.metrics.incRetry(task.Name)
		d.logger.WarnContext(ctx, "background task failed, retrying",
			"task", task.Name,
			"attempt", attempts,
			"retry_in_ms", wait.Milliseconds(),
			"error", err,
		)
	}

	err := backoff.RetryNotify(op, d.policy(ctx), notify)
	d.metrics.observe(task.Name, err, time.Since(start))
	if err != nil {
		d.logger.ErrorContext(ctx, "background task abandoned",
			"task", task.Name,
			"attempts", attempts,
			"error", err,
		)
	}
}

func (d *Dispatcher) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.cfg.InitialBackoff
	exp.MaxInterval = d.cfg.MaxBackoff
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(max(d.cfg.MaxRetries, 0))), ctx)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
