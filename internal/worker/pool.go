package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lyb88999/gns/internal/domain"
	"github.com/lyb88999/gns/internal/provider"
	"github.com/lyb88999/gns/internal/queue"
	"github.com/lyb88999/gns/internal/ratelimiter"
	"github.com/lyb88999/gns/internal/registry"
	"github.com/lyb88999/gns/internal/status"
)

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the pool constructor signature clean.
type MetricHooks struct {
	OnDelivered func(channel domain.Channel, latency time.Duration)
	OnFailed    func(channel domain.Channel)
	OnRetry     func(channel domain.Channel)
}

// Deps groups what every worker shares.
type Deps struct {
	Queue    *queue.PriorityQueue
	Store    *status.Store
	Registry *registry.Registry
	Gateway  *provider.Gateway
	Limiter  *ratelimiter.ChannelLimiters
	Backoff  Backoff
	Logger   *zap.Logger
	Hooks    MetricHooks
}

// Pool manages the lifecycle of all workers.
// All workers compete for the same priority queue; dequeue hands each job
// to exactly one of them.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool creates size identical workers.
func NewPool(size int, deps Deps) *Pool {
	if size < 1 {
		size = 1
	}
	workers := make([]*Worker, size)
	for i := range workers {
		workers[i] = NewWorker(i, deps)
	}
	return &Pool{workers: workers}
}

// Start launches all workers as goroutines.
// The provided ctx is forwarded to every worker; cancelling it
// triggers a graceful shutdown of the entire pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned after ctx is cancelled.
// Call this after cancelling the context to ensure in-flight deliveries finish.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}
