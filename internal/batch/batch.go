// Package batch runs one bounded-concurrency probe pass over a set of
// targets and returns the canonically ordered, classified result.
package batch

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pingsantohq/connprobe/internal/classify"
	"github.com/pingsantohq/connprobe/internal/metrics"
	"github.com/pingsantohq/connprobe/internal/probe"
	"github.com/pingsantohq/connprobe/internal/target"
	"github.com/pingsantohq/connprobe/internal/worker"
	"github.com/pingsantohq/connprobe/pkg/types"
)

// Prober runs every configured probe against each target. It keeps no state
// between runs and is safe for concurrent use.
type Prober struct {
	probes  []probe.Probe
	limiter *rate.Limiter
	metrics metrics.BatchRecorder
	logger  *log.Logger
	now     func() time.Time
}

type Option func(*Prober)

// WithProbe appends a probe. Probes run in the order they were added.
func WithProbe(protocol string, fn probe.Func) Option {
	return func(p *Prober) {
		if fn != nil {
			p.probes = append(p.probes, probe.Probe{Protocol: protocol, Run: fn})
		}
	}
}

func WithProbes(probes ...probe.Probe) Option {
	return func(p *Prober) {
		for _, pr := range probes {
			if pr.Run != nil {
				p.probes = append(p.probes, pr)
			}
		}
	}
}

// WithRateLimit caps how many targets are dispatched per second. A
// non-positive rate disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(p *Prober) {
		if perSecond <= 0 {
			p.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithMetrics(rec metrics.BatchRecorder) Option {
	return func(p *Prober) {
		if rec != nil {
			p.metrics = rec
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(p *Prober) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(p *Prober) {
		if now != nil {
			p.now = now
		}
	}
}

func New(opts ...Option) *Prober {
	p := &Prober{
		metrics: metrics.NoopBatchRecorder{},
		logger:  log.New(io.Discard, "", 0),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Protocols lists the configured protocols in run order.
func (p *Prober) Protocols() []string {
	out := make([]string, len(p.probes))
	for i, pr := range p.probes {
		out[i] = pr.Protocol
	}
	return out
}

// Run probes fn against every target with exactly workerCount workers.
func Run(ctx context.Context, targets []types.Target, fn probe.Func, workerCount int) types.BatchResult {
	return New(WithProbe("", fn)).Run(ctx, targets, workerCount)
}

// Run probes every target with exactly workerCount concurrent workers.
//
// Cancelling ctx stops dispatch: targets not yet handed to a worker are never
// probed, probes already running finish on a detached context, and Run
// returns at once with the outcomes collected so far and Complete=false.
func (p *Prober) Run(ctx context.Context, targets []types.Target, workerCount int) types.BatchResult {
	if workerCount < 1 {
		workerCount = 1
	}
	result := types.BatchResult{
		ID:        uuid.NewString(),
		StartedAt: p.now().UTC(),
		Targets:   len(targets),
		Workers:   workerCount,
		Outcomes:  []types.ProbeOutcome{},
		Counts:    make(map[types.Classification]int, len(types.Classifications)),
	}

	expected := len(targets) * len(p.probes)
	if expected == 0 {
		result.Complete = true
		result.FinishedAt = p.now().UTC()
		p.metrics.ObserveBatch(result)
		return result
	}

	jobs := make(chan worker.Job)
	sink := make(worker.ChanSink, expected)
	pool := worker.NewPool(jobs, sink, worker.WithWorkerCount(workerCount), worker.WithHandler(p.handle))
	wg := pool.Start(ctx)

	go p.dispatch(ctx, jobs, targets)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Printf("batch %s cancelled, returning partial result", result.ID)
	}

	result.Outcomes = drain(sink, result.Outcomes)
	result.Complete = len(result.Outcomes) == expected
	sortOutcomes(result.Outcomes)
	for _, out := range result.Outcomes {
		result.Counts[out.Classification]++
	}
	result.FinishedAt = p.now().UTC()
	p.metrics.ObserveBatch(result)
	p.logger.Printf("batch %s finished targets=%d workers=%d outcomes=%d complete=%t duration=%s",
		result.ID, len(targets), workerCount, len(result.Outcomes), result.Complete, result.Duration().Round(time.Millisecond))
	return result
}

func (p *Prober) dispatch(ctx context.Context, jobs chan<- worker.Job, targets []types.Target) {
	defer close(jobs)
	for i, t := range targets {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case jobs <- worker.Job{Seq: i, Target: t}:
		}
	}
}

func (p *Prober) handle(ctx context.Context, job worker.Job) []types.ProbeOutcome {
	outcomes := make([]types.ProbeOutcome, 0, len(p.probes))
	for _, pr := range p.probes {
		outcomes = append(outcomes, p.runProbe(ctx, pr, job.Target))
	}
	return outcomes
}

func (p *Prober) runProbe(ctx context.Context, pr probe.Probe, t types.Target) (out types.ProbeOutcome) {
	defer func() {
		if r := recover(); r != nil {
			detail := strings.TrimSpace(fmt.Sprint(r))
			if detail == "" {
				detail = fmt.Sprintf("%T", r)
			}
			p.logger.Printf("probe %s panicked for %s: %s", pr.Protocol, t.Key(), detail)
			out = types.ProbeOutcome{
				Target:         t,
				Protocol:       pr.Protocol,
				Classification: types.ClassUnknown,
				Detail:         detail,
				Error:          "panic: " + detail,
				CheckedAt:      p.now().UTC(),
			}
		}
	}()

	res, err := pr.Run(ctx, t)
	if err != nil {
		out = classify.Outcome(t, pr.Protocol, err)
		out.CheckedAt = p.now().UTC()
		return out
	}
	latency := float64(res.Latency) / float64(time.Millisecond)
	return types.ProbeOutcome{
		Target:         t,
		Protocol:       pr.Protocol,
		Classification: types.ClassOK,
		Detail:         classify.Success(res.StatusCode),
		StatusCode:     res.StatusCode,
		LatencyMs:      &latency,
		CheckedAt:      p.now().UTC(),
	}
}

func drain(sink worker.ChanSink, out []types.ProbeOutcome) []types.ProbeOutcome {
	for {
		select {
		case o := <-sink:
			out = append(out, o)
		default:
			return out
		}
	}
}

func sortOutcomes(outcomes []types.ProbeOutcome) {
	sort.SliceStable(outcomes, func(i, j int) bool {
		a, b := outcomes[i], outcomes[j]
		if c := target.Compare(a.Target, b.Target); c != 0 {
			return c < 0
		}
		if a.Target.Line != b.Target.Line {
			return a.Target.Line < b.Target.Line
		}
		return probe.Order(a.Protocol) < probe.Order(b.Protocol)
	})
}

// Reports groups a result's outcomes per target, keeping canonical order,
// and derives each target's overall status.
func Reports(result types.BatchResult) []types.TargetReport {
	reports := make([]types.TargetReport, 0, len(result.Outcomes))
	for _, out := range result.Outcomes {
		n := len(reports)
		if n > 0 && reports[n-1].Target == out.Target {
			reports[n-1].Outcomes = append(reports[n-1].Outcomes, out)
			continue
		}
		reports = append(reports, types.TargetReport{Target: out.Target, Outcomes: []types.ProbeOutcome{out}})
	}
	for i := range reports {
		reports[i].Overall = classify.OverallOf(reports[i].Outcomes)
	}
	return reports
}
