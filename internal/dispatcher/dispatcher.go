// Package dispatcher fans queued capture jobs out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/screencrawl/internal/crawler"
	"github.com/JakeFAU/screencrawl/internal/worker"
)

// Dispatcher owns the job queue and the workers draining it.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// AddWorkers starts tracking n more workers that share deps and drain the
// dispatcher's queue. It must be called before Run. n below one adds one.
func (d *Dispatcher) AddWorkers(n int, deps worker.Deps, cfg worker.Config, logger *zap.Logger) {
	if n < 1 {
		n = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	deps.Queue = d.queue
	for range n {
		d.workers = append(d.workers, worker.New(deps, cfg, logger.With(zap.Int("worker", len(d.workers)))))
	}
}

// Size reports the number of workers.
func (d *Dispatcher) Size() int { return len(d.workers) }

// Run starts all workers and blocks until the context finishes and every
// in-flight job has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Go(func() { w.Run(ctx) })
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue. Queue errors are wrapped so
// callers can still match them with errors.Is.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
