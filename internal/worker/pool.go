package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (p *Pool) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, i)
	}

	p.logger.Info("Worker pool spawned successfully",
		slog.String("pool", p.name),
		slog.Int("worker_count", p.concurrency),
	)
}

// workerLoop is the main processing loop for each worker goroutine
func (p *Pool) workerLoop(ctx context.Context, workerNum int) {
	defer p.wg.Done()

	workerName := fmt.Sprintf("%s-%d", p.name, workerNum)
	p.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for task := range p.tasks {
		p.run(ctx, workerName, task)
	}

	p.logger.Debug("Worker goroutine stopping - task queue closed",
		slog.String("worker_name", workerName),
	)
}

// run executes task; a panic is logged and the worker keeps going
func (p *Pool) run(ctx context.Context, workerName string, task Task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panicked",
				slog.String("worker_name", workerName),
				slog.String("task", task.Name),
				slog.Any("panic", r),
			)
		}
	}()

	p.logger.Debug("Worker received task",
		slog.String("worker_name", workerName),
		slog.String("task", task.Name),
	)

	if err := task.Run(ctx); err != nil {
		p.logger.Error("Task failed",
			slog.String("worker_name", workerName),
			slog.String("task", task.Name),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return
	}

	p.logger.Debug("Task completed",
		slog.String("worker_name", workerName),
		slog.String("task", task.Name),
		slog.Duration("duration", time.Since(start)),
	)
}
