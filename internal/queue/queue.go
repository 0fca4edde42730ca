// Package queue provides serial dispatch queues. Closures enqueued on a Queue
// run one at a time, in order, on the queue's worker goroutine. The notification
// center uses a queue as the "main" context that owns observer callbacks.
package queue

import (
	"context"
	"sync"

	"github.com/nkkko/supports/internal/logging"
	"github.com/nkkko/supports/internal/metrics"
	"github.com/rs/zerolog"
)

// Config contains queue configuration
type Config struct {
	// Name shows up in logs
	Name string

	// Number of closures that may wait before Enqueue starts rejecting
	BufferSize int
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Name:       "main",
		BufferSize: 256,
	}
}

// Queue runs closures serially on a single worker goroutine
type Queue struct {
	config  Config
	tasks   chan func()
	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a queue. Nothing runs until Start is called.
func New(config Config) *Queue {
	if config.Name == "" {
		config.Name = DefaultConfig().Name
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}

	return &Queue{
		config:  config,
		tasks:   make(chan func(), config.BufferSize),
		done:    make(chan struct{}),
		logger:  logging.Component("queue").With().Str("queue", config.Name).Logger(),
		metrics: metrics.GetMetrics(),
	}
}

// Name returns the configured queue name
func (q *Queue) Name() string {
	return q.config.Name
}

// Start runs the worker loop until the queue is closed and drained, or ctx
// is canceled. Start must be called at most once.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = true
	q.mu.Unlock()

	defer close(q.done)

	q.logger.Debug().Msg("Starting dispatch queue")

	for {
		select {
		case fn, ok := <-q.tasks:
			if !ok {
				q.logger.Debug().Msg("Dispatch queue drained, stopping")
				return nil
			}
			q.metrics.QueueDepth.Dec()
			q.run(fn)

		case <-ctx.Done():
			q.logger.Debug().Msg("Context canceled, stopping dispatch queue")
			return ctx.Err()
		}
	}
}

// Enqueue schedules fn. It returns false when the queue is closed or full.
func (q *Queue) Enqueue(fn func()) bool {
	if fn == nil {
		return false
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.metrics.QueueRejectedTotal.Inc()
		return false
	}

	select {
	case q.tasks <- fn:
		q.metrics.QueueDepth.Inc()
		return true
	default:
		q.metrics.QueueRejectedTotal.Inc()
		q.logger.Warn().Int("buffer_size", q.config.BufferSize).Msg("Dispatch queue full, rejecting closure")
		return false
	}
}

// Sync schedules fn and waits for it to finish. It must not be called from
// a closure running on the same queue.
func (q *Queue) Sync(fn func()) bool {
	finished := make(chan struct{})
	if !q.Enqueue(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}

	select {
	case <-finished:
		return true
	case <-q.done:
		// The worker stopped before reaching fn
		select {
		case <-finished:
			return true
		default:
			return false
		}
	}
}

// Close stops accepting closures and waits for the worker to run everything
// already queued. Calling Close more than once is safe.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	started := q.started
	close(q.tasks)
	q.mu.Unlock()

	if started {
		<-q.done
	}
	return nil
}

// run executes fn and recovers a panic
func (q *Queue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.metrics.HandlerPanicsTotal.Inc()
			q.logger.Error().Interface("panic", r).Msg("Closure panicked on dispatch queue")
		}
	}()
	fn()
}
