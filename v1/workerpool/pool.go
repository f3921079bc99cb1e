// Package workerpool runs background jobs on a fixed number of goroutines
// fed by a bounded queue. Submission never blocks the caller.
package workerpool

import (
	"context"
	"log/slog"
	"sync"
)

const (
	defaultWorkers   = 10
	defaultQueueSize = 256
)

// Job is a unit of background work. The context is cancelled when the pool
// is closed.
type Job func(ctx context.Context)

// Pool is a bounded worker pool.
type Pool struct {
	queue  chan Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu     sync.RWMutex
	closed bool

	logger *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger that reports panicking jobs. slog.Default is
// used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New starts a pool with the given number of workers and queue size.
// Non-positive values select 10 workers and a queue of 256.
func New(workers, queueSize int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:  make(chan Job, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.queue {
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("seckill: background job panicked", "panic", r)
		}
	}()
	job(p.ctx)
}

// TrySubmit enqueues job and reports whether it was accepted. It returns
// false when the queue is full or the pool is closed.
func (p *Pool) TrySubmit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- job:
		return true
	default:
		return false
	}
}

// Close stops accepting jobs, cancels the context handed to running jobs and
// waits for the workers to drain the queue.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
		p.cancel()
		p.wg.Wait()
	})
}
