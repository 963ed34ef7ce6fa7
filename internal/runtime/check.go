package runtime

import (
	"context"
	"log"
	"time"

	"github.com/pingsantohq/connprobe/internal/batch"
	"github.com/pingsantohq/connprobe/internal/config"
	"github.com/pingsantohq/connprobe/internal/metrics"
	"github.com/pingsantohq/connprobe/internal/probe"
	"github.com/pingsantohq/connprobe/internal/target"
	"github.com/pingsantohq/connprobe/internal/worker"
	"github.com/pingsantohq/connprobe/pkg/types"
)

// Checker runs one-shot batches with the probe settings of a Config. It
// needs no registry, so the CLI uses it directly.
type Checker struct {
	cfg     config.ProbeConfig
	logger  *log.Logger
	metrics *metrics.Store
	now     func() time.Time
	prober  *batch.Prober
	fixed   bool
}

// NewChecker builds a Checker from cfg. Only WithLogger, WithMetricsStore,
// WithCheckProbes and WithNow apply.
func NewChecker(cfg config.Config, opts ...Option) *Checker {
	return newChecker(cfg, resolveOptions(opts))
}

func newChecker(cfg config.Config, o options) *Checker {
	c := &Checker{
		cfg:     cfg.Probes,
		logger:  o.logger,
		metrics: o.metricsStore,
		now:     o.now,
	}
	probes := o.checkProbes
	if len(probes) > 0 {
		c.fixed = true
	} else {
		probes = probe.Set(cfg.Probes.Protocols, probeOptions(cfg.Probes, cfg.Probes.Timeout, cfg.Probes.VerifyTLS)...)
	}
	c.prober = c.newProber(probes)
	return c
}

func probeOptions(cfg config.ProbeConfig, timeout time.Duration, verifyTLS bool) []probe.Option {
	return []probe.Option{
		probe.WithTimeout(timeout),
		probe.WithVerifyTLS(verifyTLS),
		probe.WithMaxRedirects(cfg.MaxRedirects),
		probe.WithDefaultPort(cfg.DefaultPort),
		probe.WithICMPCount(cfg.ICMP.Count),
		probe.WithPrivileged(cfg.ICMP.Privileged),
	}
}

func (c *Checker) newProber(probes []probe.Probe) *batch.Prober {
	opts := []batch.Option{
		batch.WithProbes(probes...),
		batch.WithMetrics(c.metrics),
		batch.WithLogger(c.logger),
		batch.WithNow(c.now),
	}
	if c.cfg.RateLimit > 0 {
		opts = append(opts, batch.WithRateLimit(c.cfg.RateLimit, c.cfg.RateBurst))
	}
	return batch.New(opts...)
}

// Check runs a one-shot batch over targets. Targets without a port are
// expanded over opts.Ports, or over the configured port list when
// opts.AllPorts is set.
func (c *Checker) Check(ctx context.Context, targets []types.Target, opts CheckOptions) types.BatchResult {
	ports := opts.Ports
	if opts.AllPorts {
		ports = c.cfg.Ports
	}
	if len(ports) > 0 {
		targets = target.Expand(targets, ports)
	}

	prober := c.prober
	if !c.fixed && (opts.Timeout > 0 || opts.VerifyTLS != nil) {
		timeout := c.cfg.Timeout
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		verify := c.cfg.VerifyTLS
		if opts.VerifyTLS != nil {
			verify = *opts.VerifyTLS
		}
		prober = c.newProber(probe.Set(c.cfg.Protocols, probeOptions(c.cfg, timeout, verify)...))
	}

	workers := worker.ComputeWorkerCount(len(targets), c.cfg.MinWorkers, c.cfg.MaxWorkers)
	return prober.Run(ctx, targets, workers)
}

// Protocols lists the protocols Check probes, in probe order.
func (c *Checker) Protocols() []string { return c.prober.Protocols() }
