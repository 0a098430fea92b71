package aggregation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Clark-Hu/post-score/internal/metrics"
)

const (
	defaultWorkers    = 4
	defaultQueueSize  = 256
	defaultJobTimeout = 10 * time.Second
)

// JobFunc processes one bucket id.
type JobFunc func(ctx context.Context, id int64) error

// PoolOptions configures a Pool.
type PoolOptions struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Pool runs jobs on a fixed set of workers fed by a buffered queue.
// An id is held from Dispatch until its job returns; dispatching it again
// meanwhile is a no-op.
type Pool struct {
	job  JobFunc
	opts PoolOptions

	queue   chan int64
	workers sync.WaitGroup
	handoff sync.WaitGroup

	mu      sync.Mutex
	pending map[int64]struct{}
	closed  bool
}

// NewPool starts opts.Workers workers running job.
func NewPool(job JobFunc, opts PoolOptions) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	p := &Pool{
		job:     job,
		opts:    opts,
		queue:   make(chan int64, opts.QueueSize),
		pending: make(map[int64]struct{}),
	}
	for i := 0; i < opts.Workers; i++ {
		p.workers.Add(1)
		go p.work()
	}
	return p
}

// Dispatch enqueues id without blocking. It returns false when id is already
// queued or running, or when the pool is closed.
func (p *Pool) Dispatch(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if _, ok := p.pending[id]; ok {
		return false
	}
	p.pending[id] = struct{}{}
	p.opts.Metrics.Dispatched.Inc()

	select {
	case p.queue <- id:
	default:
		// Queue full: hand off so the caller is never held up.
		p.handoff.Add(1)
		go func() {
			defer p.handoff.Done()
			p.queue <- id
		}()
	}
	return true
}

// Pending reports how many ids are queued or running.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close stops accepting ids, lets queued jobs finish and waits for the workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.handoff.Wait()
	close(p.queue)
	p.workers.Wait()
}

func (p *Pool) work() {
	defer p.workers.Done()
	for id := range p.queue {
		p.run(id)
	}
}

func (p *Pool) run(id int64) {
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.JobTimeout)
	defer cancel()

	if err := p.job(ctx, id); err != nil {
		p.opts.Logger.Warn("aggregation job failed, retrying on next sweep",
			"aggregate_id", id,
			"error", err)
	}
}
