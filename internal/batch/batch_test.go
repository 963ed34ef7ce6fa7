package batch

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pingsantohq/connprobe/internal/classify"
	"github.com/pingsantohq/connprobe/internal/metrics"
	"github.com/pingsantohq/connprobe/internal/probe"
	"github.com/pingsantohq/connprobe/pkg/types"
)

func targets(addrs ...string) []types.Target {
	out := make([]types.Target, len(addrs))
	for i, a := range addrs {
		out[i] = types.Target{Address: a, Line: i + 1}
	}
	return out
}

func TestRunReturnsCanonicalOrder(t *testing.T) {
	fn := func(ctx context.Context, target types.Target) (probe.Result, error) {
		time.Sleep(time.Duration(rand.Intn(10)) * time.Millisecond)
		return probe.Result{StatusCode: 200, Latency: time.Millisecond}, nil
	}
	in := targets("example.com", "10.0.0.10", "10.0.0.2", "10.0.0.1", "a.example.org")

	want := []string{"10.0.0.1", "10.0.0.2", "10.0.0.10", "a.example.org", "example.com"}

	// Completion order varies from run to run; the returned order must not.
	for run := 0; run < 20; run++ {
		result := Run(context.Background(), in, fn, 3)
		if !result.Complete {
			t.Fatalf("run %d: expected complete result", run)
		}
		if len(result.Outcomes) != len(want) {
			t.Fatalf("run %d: expected %d outcomes got %d", run, len(want), len(result.Outcomes))
		}
		for i, addr := range want {
			if result.Outcomes[i].Target.Address != addr {
				t.Fatalf("run %d position %d: expected %s got %s", run, i, addr, result.Outcomes[i].Target.Address)
			}
			if result.Outcomes[i].Detail != "OK (200)" || result.Outcomes[i].LatencyMs == nil {
				t.Fatalf("run %d: unexpected outcome %+v", run, result.Outcomes[i])
			}
		}
		if result.Counts[types.ClassOK] != len(want) {
			t.Fatalf("run %d: unexpected counts %+v", run, result.Counts)
		}
		if result.ID == "" || result.Workers != 3 {
			t.Fatalf("run %d: unexpected metadata id=%q workers=%d", run, result.ID, result.Workers)
		}
	}
}

func TestRunClassifiesErrorsWithoutAborting(t *testing.T) {
	fn := func(ctx context.Context, target types.Target) (probe.Result, error) {
		return probe.Result{}, errors.New("boom")
	}
	result := Run(context.Background(), targets("10.0.0.1", "10.0.0.2", "10.0.0.3"), fn, 2)
	if !result.Complete || len(result.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %+v", result)
	}
	for _, out := range result.Outcomes {
		if out.Classification != types.ClassUnknown || out.Detail != "boom" || out.LatencyMs != nil {
			t.Fatalf("unexpected outcome %+v", out)
		}
	}
	if result.Counts[types.ClassUnknown] != 3 {
		t.Fatalf("unexpected counts %+v", result.Counts)
	}
}

func TestRunRecoversProbePanics(t *testing.T) {
	fn := func(ctx context.Context, target types.Target) (probe.Result, error) {
		if target.Address == "10.0.0.2" {
			panic("exploded")
		}
		return probe.Result{}, classify.ErrTooManyRedirects
	}
	result := Run(context.Background(), targets("10.0.0.1", "10.0.0.2"), fn, 2)
	if len(result.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes got %d", len(result.Outcomes))
	}
	if result.Outcomes[0].Classification != types.ClassTooManyRedirects {
		t.Fatalf("unexpected first outcome %+v", result.Outcomes[0])
	}
	if result.Outcomes[1].Classification != types.ClassUnknown || result.Outcomes[1].Detail != "exploded" {
		t.Fatalf("unexpected panic outcome %+v", result.Outcomes[1])
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	fn := func(ctx context.Context, target types.Target) (probe.Result, error) {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return probe.Result{}, nil
	}
	in := make([]types.Target, 40)
	for i := range in {
		in[i] = types.Target{Address: "10.0.1.1", Port: i + 1}
	}
	result := Run(context.Background(), in, fn, 4)
	if !result.Complete || len(result.Outcomes) != 40 {
		t.Fatalf("expected 40 outcomes, got %d", len(result.Outcomes))
	}
	if peak.Load() > 4 {
		t.Fatalf("expected at most 4 concurrent probes, saw %d", peak.Load())
	}
	for i, out := range result.Outcomes {
		if out.Target.Port != i+1 {
			t.Fatalf("expected port order, position %d has port %d", i, out.Target.Port)
		}
	}
}

func TestRunCancellationReturnsPartial(t *testing.T) {
	var started atomic.Int32
	fn := func(ctx context.Context, target types.Target) (probe.Result, error) {
		started.Add(1)
		time.Sleep(20 * time.Millisecond)
		return probe.Result{}, nil
	}
	in := make([]types.Target, 200)
	for i := range in {
		in[i] = types.Target{Address: "10.0.2.1", Port: i + 1}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	begin := time.Now()
	result := Run(ctx, in, fn, 2)
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Fatalf("expected prompt return after cancel, took %s", elapsed)
	}
	if result.Complete {
		t.Fatalf("expected partial result")
	}
	if len(result.Outcomes) >= len(in) {
		t.Fatalf("expected fewer outcomes than targets, got %d", len(result.Outcomes))
	}

	time.Sleep(60 * time.Millisecond)
	if n := started.Load(); n >= int32(len(in)) {
		t.Fatalf("expected dispatch to stop after cancel, %d probes started", n)
	}
}

func TestRunEmptyTargets(t *testing.T) {
	result := Run(context.Background(), nil, func(context.Context, types.Target) (probe.Result, error) {
		t.Fatalf("probe must not be called")
		return probe.Result{}, nil
	}, 0)
	if !result.Complete || len(result.Outcomes) != 0 || result.Workers != 1 {
		t.Fatalf("unexpected empty result %+v", result)
	}
}

func TestProberMultiProtocolReports(t *testing.T) {
	store := metrics.NewStore()
	httpFn := func(ctx context.Context, target types.Target) (probe.Result, error) {
		if target.Address == "10.0.0.1" {
			return probe.Result{StatusCode: 301}, nil
		}
		return probe.Result{}, context.DeadlineExceeded
	}
	httpsFn := func(ctx context.Context, target types.Target) (probe.Result, error) {
		if target.Address == "10.0.0.3" {
			return probe.Result{}, errors.New("dial tcp: connection refused")
		}
		return probe.Result{}, context.DeadlineExceeded
	}
	p := New(
		WithProbe(probe.ProtocolHTTPS, httpsFn),
		WithProbe(probe.ProtocolHTTP, httpFn),
		WithMetrics(store),
		WithRateLimit(1000, 2),
	)
	if got := p.Protocols(); len(got) != 2 || got[0] != probe.ProtocolHTTPS {
		t.Fatalf("unexpected protocols %v", got)
	}

	result := p.Run(context.Background(), targets("10.0.0.3", "10.0.0.2", "10.0.0.1"), 3)
	if len(result.Outcomes) != 6 {
		t.Fatalf("expected 6 outcomes got %d", len(result.Outcomes))
	}
	if result.Outcomes[0].Protocol != probe.ProtocolHTTP || result.Outcomes[1].Protocol != probe.ProtocolHTTPS {
		t.Fatalf("expected http before https, got %s,%s", result.Outcomes[0].Protocol, result.Outcomes[1].Protocol)
	}

	reports := Reports(result)
	if len(reports) != 3 {
		t.Fatalf("expected 3 reports got %d", len(reports))
	}
	want := map[string]types.OverallStatus{
		"10.0.0.1": types.OverallOK,
		"10.0.0.2": types.OverallTimeout,
		"10.0.0.3": types.OverallError,
	}
	for _, r := range reports {
		if r.Overall != want[r.Target.Address] {
			t.Fatalf("%s: expected %s got %s", r.Target.Address, want[r.Target.Address], r.Overall)
		}
	}
	if out, ok := reports[0].Outcome(probe.ProtocolHTTP); !ok || out.Detail != "OK (301)" {
		t.Fatalf("unexpected http outcome %+v", out)
	}

	snap := store.Snapshot()
	if snap.BatchesTotal != 1 || snap.Outcomes[types.ClassTimeout] != 4 {
		t.Fatalf("unexpected metrics snapshot %+v", snap)
	}
}

func TestReportsKeepDuplicateTargetsApart(t *testing.T) {
	fn := func(ctx context.Context, target types.Target) (probe.Result, error) {
		return probe.Result{}, nil
	}
	result := New(WithProbe("http", fn), WithProbe("https", fn)).Run(context.Background(), targets("10.0.0.1", "10.0.0.1"), 2)
	reports := Reports(result)
	if len(reports) != 2 {
		t.Fatalf("expected duplicate targets to produce 2 reports, got %d", len(reports))
	}
	for _, r := range reports {
		if len(r.Outcomes) != 2 {
			t.Fatalf("expected 2 outcomes per report, got %d", len(r.Outcomes))
		}
	}
}
