package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrPoolStopped is returned when submitting to a stopped pool
var ErrPoolStopped = errors.New("worker pool stopped")

// Task is one unit of work run by the pool
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config holds worker pool configuration
type Config struct {
	Logger      *slog.Logger
	Name        string
	Concurrency int
}

// Pool runs submitted tasks on a fixed number of goroutines
type Pool struct {
	logger      *slog.Logger
	name        string
	concurrency int
	tasks       chan Task
	wg          sync.WaitGroup
	stopChan    chan struct{}
	stopOnce    sync.Once
	startOnce   sync.Once

	// mu guards stopped and the close of tasks against concurrent Submits
	mu      sync.RWMutex
	stopped bool
}

// NewPool creates a new worker pool instance
func NewPool(cfg *Config) *Pool {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	name := cfg.Name
	if name == "" {
		name = "worker"
	}

	return &Pool{
		logger:      cfg.Logger,
		name:        name,
		concurrency: concurrency,
		tasks:       make(chan Task, concurrency),
		stopChan:    make(chan struct{}),
	}
}

// Start spawns the worker goroutines. Tasks run with ctx, so canceling it
// aborts in-flight work.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.logger.Info("Starting worker pool",
			slog.String("pool", p.name),
			slog.Int("concurrency", p.concurrency),
		)
		p.spawnWorkerPool(ctx)
	})
}

// Submit queues task, blocking until a slot is free, ctx is done or the
// pool is stopped. A queued task always runs, even if Stop follows.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.stopChan:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new tasks, runs the ones already queued and waits for all of
// them to return
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping worker pool", slog.String("pool", p.name))
		close(p.stopChan)

		p.mu.Lock()
		p.stopped = true
		close(p.tasks)
		p.mu.Unlock()
	})
	p.wg.Wait()
	p.logger.Info("Worker pool stopped", slog.String("pool", p.name))
}
