package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pingsantohq/connprobe/pkg/types"
)

func TestComputeWorkerCount(t *testing.T) {
	cases := []struct {
		n, min, max, want int
	}{
		{3, 10, 50, 3},
		{100, 10, 50, 20},
		{1000, 10, 50, 50},
		{0, 10, 50, 1},
		{30, 10, 50, 10},
		{7, 10, 5, 5},
		{1, 0, 0, 1},
	}
	for _, tc := range cases {
		if got := ComputeWorkerCount(tc.n, tc.min, tc.max); got != tc.want {
			t.Fatalf("ComputeWorkerCount(%d,%d,%d) = %d, want %d", tc.n, tc.min, tc.max, got, tc.want)
		}
	}
}

func TestComputeWorkerCountBounds(t *testing.T) {
	for n := 0; n <= 500; n++ {
		w := ComputeWorkerCount(n, DefaultMinWorkers, DefaultMaxWorkers)
		if w < 1 || w > DefaultMaxWorkers {
			t.Fatalf("n=%d: worker count %d out of range", n, w)
		}
		if n > 0 && w > n {
			t.Fatalf("n=%d: worker count %d exceeds target count", n, w)
		}
	}
}

func TestPoolProcessesJob(t *testing.T) {
	jobs := make(chan Job, 1)
	sink := make(ChanSink, 10)
	processed := atomic.Int32{}

	handler := func(ctx context.Context, job Job) []types.ProbeOutcome {
		processed.Add(1)
		return []types.ProbeOutcome{{Target: job.Target, Protocol: "http", Classification: types.ClassOK}}
	}

	p := NewPool(jobs, sink, WithWorkerCount(1), WithHandler(handler))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := p.Start(ctx)

	jobs <- Job{Seq: 0, Target: types.Target{Address: "10.0.0.1"}}
	close(jobs)
	wg.Wait()

	if processed.Load() != 1 {
		t.Fatalf("expected 1 processed job got %d", processed.Load())
	}
	select {
	case out := <-sink:
		if out.Target.Address != "10.0.0.1" {
			t.Fatalf("unexpected target %s", out.Target.Address)
		}
	default:
		t.Fatalf("expected a result in the sink")
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const workers = 3
	jobs := make(chan Job)
	sink := make(ChanSink, 30)
	var active, peak atomic.Int32

	handler := func(ctx context.Context, job Job) []types.ProbeOutcome {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return []types.ProbeOutcome{{Target: job.Target}}
	}

	p := NewPool(jobs, sink, WithWorkerCount(workers), WithHandler(handler))
	wg := p.Start(context.Background())
	for i := 0; i < 30; i++ {
		jobs <- Job{Seq: i}
	}
	close(jobs)
	wg.Wait()

	if peak.Load() > workers {
		t.Fatalf("expected at most %d concurrent handlers, saw %d", workers, peak.Load())
	}
	if len(sink) != 30 {
		t.Fatalf("expected 30 results got %d", len(sink))
	}
}

func TestPoolHandlerContextSurvivesCancel(t *testing.T) {
	jobs := make(chan Job, 1)
	sink := make(ChanSink, 1)
	started := make(chan struct{})
	release := make(chan struct{})
	var handlerErr atomic.Value

	handler := func(ctx context.Context, job Job) []types.ProbeOutcome {
		close(started)
		<-release
		if ctx.Err() != nil {
			handlerErr.Store(ctx.Err())
		}
		return []types.ProbeOutcome{{Target: job.Target}}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(jobs, sink, WithWorkerCount(1), WithHandler(handler))
	wg := p.Start(ctx)
	jobs <- Job{}
	<-started
	cancel()
	close(release)
	wg.Wait()

	if v := handlerErr.Load(); v != nil {
		t.Fatalf("handler context was cancelled: %v", v)
	}
	if len(sink) != 1 {
		t.Fatalf("expected in-flight result to be delivered")
	}
}

func TestChanSinkNeverBlocks(t *testing.T) {
	sink := make(ChanSink, 1)
	if !sink.Enqueue(types.ProbeOutcome{}) {
		t.Fatalf("expected first enqueue to succeed")
	}
	if sink.Enqueue(types.ProbeOutcome{}) {
		t.Fatalf("expected full sink to reject")
	}
}
