// Package runtime is the composition root of the service: it builds the
// probers, the monitor, the registry store and the observability pieces from
// a Config and owns the monitor session state.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"sync"
	"time"

	"github.com/pingsantohq/connprobe/internal/batch"
	"github.com/pingsantohq/connprobe/internal/config"
	"github.com/pingsantohq/connprobe/internal/events"
	"github.com/pingsantohq/connprobe/internal/health"
	"github.com/pingsantohq/connprobe/internal/metrics"
	"github.com/pingsantohq/connprobe/internal/monitor"
	"github.com/pingsantohq/connprobe/internal/probe"
	"github.com/pingsantohq/connprobe/internal/registry"
	"github.com/pingsantohq/connprobe/pkg/types"
)

type Option func(*options)

type options struct {
	logger        *log.Logger
	metricsStore  *metrics.Store
	registryStore registry.Store
	checkProbes   []probe.Probe
	monitorProbes []probe.Probe
	minInterval   time.Duration
	now           func() time.Time
}

func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetricsStore(store *metrics.Store) Option {
	return func(o *options) {
		o.metricsStore = store
	}
}

// WithRegistryStore replaces the store configured by registry.driver. The
// runtime does not close a store it did not open.
func WithRegistryStore(store registry.Store) Option {
	return func(o *options) {
		o.registryStore = store
	}
}

// WithCheckProbes fixes the probes used by Check. Per-call timeout and TLS
// overrides are ignored when set.
func WithCheckProbes(probes ...probe.Probe) Option {
	return func(o *options) {
		o.checkProbes = append(o.checkProbes, probes...)
	}
}

func WithMonitorProbes(probes ...probe.Probe) Option {
	return func(o *options) {
		o.monitorProbes = append(o.monitorProbes, probes...)
	}
}

// WithMinInterval lowers the monitor interval floor.
func WithMinInterval(d time.Duration) Option {
	return func(o *options) {
		o.minInterval = d
	}
}

func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func resolveOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard, "", 0)
	}
	if o.metricsStore == nil {
		o.metricsStore = metrics.NewStore()
	}
	return o
}

// CheckOptions adjusts a single Check call. Zero values fall back to the
// configured probe settings.
type CheckOptions struct {
	Timeout   time.Duration
	VerifyTLS *bool
	Ports     []int
	AllPorts  bool
}

type Runtime struct {
	cfg       config.Config
	logger    *log.Logger
	now       func() time.Time
	metrics   *metrics.Store
	health    *health.Checker
	bus       *events.Bus
	store     registry.Store
	ownsStore bool
	checker   *Checker
	monitor   *monitor.Monitor

	mu      sync.Mutex
	baseCtx context.Context

	// stateMu orders a session change with the state file write that
	// records it.
	stateMu sync.Mutex
}

// New builds the runtime and loads the registry from its store.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Runtime, error) {
	o := resolveOptions(opts)
	rt := &Runtime{
		cfg:     cfg,
		logger:  o.logger,
		now:     o.now,
		metrics: o.metricsStore,
		health:  health.NewChecker(o.metricsStore, cfg.Monitor.StaleAfter),
		bus:     events.NewBus(),
		store:   o.registryStore,
		baseCtx: context.Background(),
	}

	if rt.store == nil {
		store, err := registry.Open(ctx, cfg.Registry)
		if err != nil {
			return nil, fmt.Errorf("open registry: %w", err)
		}
		rt.store = store
		rt.ownsStore = true
	}

	rt.checker = newChecker(cfg, o)

	monitorProbes := o.monitorProbes
	if len(monitorProbes) == 0 {
		monitorProbes = probe.Set(cfg.Monitor.Protocols, probeOptions(cfg.Probes, cfg.Probes.Timeout, cfg.Probes.VerifyTLS)...)
	}
	monOpts := []monitor.Option{
		monitor.WithStore(rt.store),
		monitor.WithEvents(events.NewMulti(rt.bus, events.LogRecorder{Logger: rt.logger})),
		monitor.WithMetrics(metrics.MultiMonitorRecorder{rt.metrics, rt.health}),
		monitor.WithLogger(rt.logger),
		monitor.WithNow(rt.now),
		monitor.WithMaxWorkers(cfg.Monitor.MaxWorkers),
	}
	if o.minInterval > 0 {
		monOpts = append(monOpts, monitor.WithMinInterval(o.minInterval))
	}
	rt.monitor = monitor.New(batch.New(
		batch.WithProbes(monitorProbes...),
		batch.WithLogger(rt.logger),
	), monOpts...)

	if err := rt.monitor.Load(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// Start resumes a monitor session persisted in the state file, or starts
// one when monitor.autostart is set. ctx bounds every monitor session the
// runtime starts. The returned function blocks until the monitor loop has
// exited after ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) func() {
	r.mu.Lock()
	r.baseCtx = ctx
	r.mu.Unlock()

	interval := r.cfg.Monitor.Interval
	resume := r.cfg.Monitor.Autostart
	state, err := config.LoadState(ctx, r.cfg.DataDir)
	switch {
	case err == nil:
		resume = state.Monitor.Running
		if state.Monitor.Interval > 0 {
			interval = state.Monitor.Interval
		}
	case !errors.Is(err, fs.ErrNotExist):
		r.logger.Printf("monitor state unreadable: %v", err)
	}

	if resume && r.monitor.Len() > 0 {
		if err := r.StartMonitor(interval); err != nil {
			r.logger.Printf("monitor resume failed interval=%s: %v", interval, err)
		}
	}

	return func() {
		<-ctx.Done()
		r.monitor.Wait()
	}
}

// StartMonitor starts a monitor session and records it in the state file.
func (r *Runtime) StartMonitor(interval time.Duration) error {
	r.mu.Lock()
	ctx := r.baseCtx
	r.mu.Unlock()

	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if err := r.monitor.Start(ctx, interval); err != nil {
		return err
	}
	r.health.SetStaleAfter(r.staleAfter(r.monitor.Interval()))
	r.saveState()
	return nil
}

// StopMonitor ends the session and records it in the state file.
func (r *Runtime) StopMonitor() {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.monitor.Stop()
	r.saveState()
}

// SetInterval changes the monitor interval, persisting it when a session is
// running.
func (r *Runtime) SetInterval(interval time.Duration) error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if err := r.monitor.SetInterval(interval); err != nil {
		return err
	}
	r.health.SetStaleAfter(r.staleAfter(interval))
	if r.monitor.Running() {
		r.saveState()
	}
	return nil
}

// ApplyConfig picks up the live-reloadable parts of a changed config file.
func (r *Runtime) ApplyConfig(cfg config.Config) {
	if cfg.Monitor.Interval == r.monitor.Interval() {
		return
	}
	if err := r.SetInterval(cfg.Monitor.Interval); err != nil {
		r.logger.Printf("config interval rejected interval=%s: %v", cfg.Monitor.Interval, err)
		return
	}
	r.logger.Printf("monitor interval updated interval=%s", cfg.Monitor.Interval)
}

func (r *Runtime) staleAfter(interval time.Duration) time.Duration {
	return 3*interval + r.cfg.Probes.Timeout*time.Duration(max(r.cfg.Probes.ICMP.Count, 1))
}

// saveState must be called with stateMu held.
func (r *Runtime) saveState() {
	state := config.State{Monitor: config.MonitorState{
		Running:   r.monitor.Running(),
		Interval:  r.monitor.Interval(),
		UpdatedAt: r.now().UTC(),
	}}
	if err := config.SaveState(context.Background(), r.cfg.DataDir, state); err != nil {
		r.logger.Printf("monitor state save failed: %v", err)
	}
}

// Check runs a one-shot batch over targets; see Checker.Check.
func (r *Runtime) Check(ctx context.Context, targets []types.Target, opts CheckOptions) types.BatchResult {
	return r.checker.Check(ctx, targets, opts)
}

// Protocols lists the protocols Check probes, in probe order.
func (r *Runtime) Protocols() []string { return r.checker.Protocols() }

func (r *Runtime) Config() config.Config     { return r.cfg }
func (r *Runtime) Monitor() *monitor.Monitor { return r.monitor }
func (r *Runtime) Metrics() *metrics.Store   { return r.metrics }
func (r *Runtime) Health() *health.Checker   { return r.health }
func (r *Runtime) Events() *events.Bus       { return r.bus }

// Close releases the registry store when the runtime opened it.
func (r *Runtime) Close() error {
	if r.ownsStore && r.store != nil {
		return r.store.Close()
	}
	return nil
}
