package improvement

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// runner is what a worker executes on each poll.
type runner interface {
	runNext(ctx context.Context) error
}

// workerPool runs a fixed number of workers that poll the task store.
// Polls are jittered so workers do not stampede the store in lockstep.
type workerPool struct {
	workers      int
	pollInterval time.Duration
	jitter       time.Duration
	target       runner

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	active       atomic.Int64
	processed    atomic.Int64
	lastActivity atomic.Int64 // unix nanos of the last completed task
}

// PoolHealth is a point-in-time view of the worker pool.
type PoolHealth struct {
	Workers        int       `json:"workers"`
	ActiveWorkers  int       `json:"active_workers"`
	TasksProcessed int64     `json:"tasks_processed"`
	LastActivity   time.Time `json:"last_activity,omitempty"`
}

func (p *workerPool) health() PoolHealth {
	h := PoolHealth{
		Workers:        p.workers,
		ActiveWorkers:  int(p.active.Load()),
		TasksProcessed: p.processed.Load(),
	}
	if ns := p.lastActivity.Load(); ns > 0 {
		h.LastActivity = time.Unix(0, ns)
	}
	return h
}

func newWorkerPool(workers int, pollInterval, jitter time.Duration, target runner) *workerPool {
	return &workerPool{
		workers:      workers,
		pollInterval: pollInterval,
		jitter:       jitter,
		target:       target,
		stopCh:       make(chan struct{}),
	}
}

func (p *workerPool) start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	slog.Info("Improvement worker pool started",
		"workers", p.workers,
		"poll_interval", p.pollInterval)
}

// stop signals the workers and waits for in-flight tasks to finish.
func (p *workerPool) stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	slog.Info("Improvement worker pool stopped")
}

func (p *workerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		p.active.Add(1)
		err := p.target.runNext(ctx)
		p.active.Add(-1)
		switch {
		case err == nil:
			p.processed.Add(1)
			p.lastActivity.Store(time.Now().UnixNano())
			// Got work; poll again immediately to drain the queue.
			continue
		case errors.Is(err, ErrNoTasksAvailable), errors.Is(err, ErrAtCapacity):
			// Quiet idle path.
		default:
			slog.Error("Worker failed to process task", "worker", id, "error", err)
		}

		sleep := p.pollInterval
		if p.jitter > 0 {
			sleep += time.Duration(rand.Int63n(int64(p.jitter)))
		}
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}
