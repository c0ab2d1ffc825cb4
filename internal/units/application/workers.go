package application

import (
	"context"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"
)

// Pool runs evaluation tasks on a fixed set of workers. Tasks for the
// same unit always hash to the same worker, so readings and sweeps for
// one unit execute in submission order without per-unit locks.
type Pool struct {
	log     *zap.Logger
	queues  []chan task
	wg      sync.WaitGroup
	closing sync.Once
}

type task struct {
	unitID string
	run    func(ctx context.Context)
}

// NewPool constructs a pool with the given worker count and per-worker
// queue depth.
func NewPool(workers, depth int, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if depth <= 0 {
		depth = 64
	}
	queues := make([]chan task, workers)
	for i := range queues {
		queues[i] = make(chan task, depth)
	}
	return &Pool{log: log, queues: queues}
}

// Start launches the workers. They drain their queues until Close is
// called or the context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := range p.queues {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, idx int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-p.queues[idx]:
			if !ok {
				return
			}
			t.run(ctx)
		}
	}
}

// Submit enqueues a task on the unit's partition. It blocks when the
// partition queue is full, pushing back on ingestion rather than
// reordering or dropping work.
func (p *Pool) Submit(ctx context.Context, unitID string, run func(ctx context.Context)) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.queues[p.partition(unitID)] <- task{unitID: unitID, run: run}:
		return nil
	}
}

func (p *Pool) partition(unitID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(unitID))
	return int(h.Sum32() % uint32(len(p.queues)))
}

// Close stops accepting work and waits for queued tasks to finish.
func (p *Pool) Close() {
	p.closing.Do(func() {
		for _, q := range p.queues {
			close(q)
		}
	})
	p.wg.Wait()
}
