package webhook

import (
	"context"
	"runtime"
	"sync"

	"github.com/promptlane/relay/internal/models"
)

// WorkerPool executes delivery attempts in the background. Triggering
// callers return once a delivery is enqueued, not once its HTTP
// response is known.
type WorkerPool struct {
	workers    int
	bufferSize int
	jobs       chan *models.WebhookDelivery
	wg         sync.WaitGroup
	started    bool
	mu         sync.Mutex
}

// NewWorkerPool creates a pool with N workers.
// If workers <= 0, defaults to runtime.NumCPU().
func NewWorkerPool(workers, bufferSize int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if bufferSize <= 0 {
		bufferSize = workers * 4
	}

	return &WorkerPool{
		workers:    workers,
		bufferSize: bufferSize,
		jobs:       make(chan *models.WebhookDelivery, bufferSize),
	}
}

// Start begins worker goroutines with the given processor function.
func (p *WorkerPool) Start(ctx context.Context, processor func(context.Context, *models.WebhookDelivery)) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-p.jobs:
					if !ok {
						return
					}
					processor(ctx, d)
				}
			}
		}()
	}
}

// Submit adds a delivery to the job queue.
// Returns an error if the context is canceled before there is room.
func (p *WorkerPool) Submit(ctx context.Context, d *models.WebhookDelivery) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- d:
		return nil
	}
}

// Close signals no more jobs and waits for in-flight attempts to finish.
func (p *WorkerPool) Close() {
	close(p.jobs)
	p.wg.Wait()
}

// Pending returns the number of queued deliveries.
func (p *WorkerPool) Pending() int {
	return len(p.jobs)
}

// Workers returns the number of workers.
func (p *WorkerPool) Workers() int {
	return p.workers
}
