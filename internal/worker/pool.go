package worker

import (
	"context"
	"runtime"
	"sync"

	"github.com/pingsantohq/connprobe/pkg/types"
)

// ResultSink receives the outcomes produced by workers.
type ResultSink interface {
	Enqueue(types.ProbeOutcome) bool
}

// Handler probes the target of a job. It runs on a context that is not
// cancelled with the pool, so in-flight probes finish on their own timeout.
type Handler func(ctx context.Context, job Job) []types.ProbeOutcome

// ChanSink adapts a buffered channel to ResultSink. Enqueue never blocks;
// it reports false when the buffer is full.
type ChanSink chan types.ProbeOutcome

func (c ChanSink) Enqueue(out types.ProbeOutcome) bool {
	select {
	case c <- out:
		return true
	default:
		return false
	}
}

type Pool struct {
	jobs        <-chan Job
	results     ResultSink
	workerCount int
	handler     Handler
}

type PoolOption func(*Pool)

func WithWorkerCount(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workerCount = n
		}
	}
}

func WithHandler(fn Handler) PoolOption {
	return func(p *Pool) {
		if fn != nil {
			p.handler = fn
		}
	}
}

func NewPool(jobs <-chan Job, results ResultSink, opts ...PoolOption) *Pool {
	p := &Pool{
		jobs:        jobs,
		results:     results,
		workerCount: runtime.NumCPU(),
		handler:     func(context.Context, Job) []types.ProbeOutcome { return nil },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	if p.results == nil {
		p.results = make(ChanSink, p.workerCount)
	}
	return p
}

func (p *Pool) WorkerCount() int {
	return p.workerCount
}

// Start launches the workers. They exit when ctx is cancelled or the jobs
// channel is closed; a job received after cancellation is dropped.
func (p *Pool) Start(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runWorker(ctx)
		}()
	}
	return &wg
}

func (p *Pool) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			p.handleJob(ctx, job)
		}
	}
}

func (p *Pool) handleJob(ctx context.Context, job Job) {
	for _, out := range p.handler(context.WithoutCancel(ctx), job) {
		p.results.Enqueue(out)
	}
}
