package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pingsantohq/connprobe/internal/config"
	"github.com/pingsantohq/connprobe/internal/monitor"
	"github.com/pingsantohq/connprobe/internal/probe"
	"github.com/pingsantohq/connprobe/internal/registry"
	"github.com/pingsantohq/connprobe/pkg/types"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Config{DataDir: t.TempDir()}
	cfg.Registry.Driver = config.DriverMemory
	cfg.ApplyDefaults()
	return cfg
}

func okProbe(protocol string) probe.Probe {
	return probe.Probe{Protocol: protocol, Run: func(ctx context.Context, t types.Target) (probe.Result, error) {
		return probe.Result{StatusCode: 200, Latency: 5 * time.Millisecond}, nil
	}}
}

func TestCheckExpandsPorts(t *testing.T) {
	cfg := testConfig(t)
	rt, err := New(context.Background(), cfg, WithCheckProbes(okProbe(probe.ProtocolHTTP), okProbe(probe.ProtocolHTTPS)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	targets := []types.Target{{Address: "10.0.0.2"}, {Address: "10.0.0.1", Port: 8443}}
	result := rt.Check(context.Background(), targets, CheckOptions{Ports: []int{80, 443}})
	if !result.Complete {
		t.Fatalf("expected complete batch")
	}
	// 10.0.0.1 keeps its explicit port, 10.0.0.2 becomes two targets.
	if len(result.Outcomes) != 6 {
		t.Fatalf("expected 6 outcomes got %d", len(result.Outcomes))
	}
	first := result.Outcomes[0]
	if first.Target.Address != "10.0.0.1" || first.Target.Port != 8443 || first.Protocol != probe.ProtocolHTTP {
		t.Fatalf("unexpected first outcome %+v", first)
	}
	if result.Counts[types.ClassOK] != 6 {
		t.Fatalf("unexpected counts %+v", result.Counts)
	}
	if result.Workers != 3 {
		t.Fatalf("expected 3 workers for 3 targets got %d", result.Workers)
	}
	if got := rt.Metrics().Snapshot().BatchesTotal; got != 1 {
		t.Fatalf("expected batch recorded, got %d", got)
	}

	all := rt.Check(context.Background(), []types.Target{{Address: "10.0.0.3"}}, CheckOptions{AllPorts: true})
	if len(all.Outcomes) != 2*len(cfg.Probes.Ports) {
		t.Fatalf("expected every configured port probed, got %d outcomes", len(all.Outcomes))
	}
}

func TestCheckerWithoutRegistry(t *testing.T) {
	cfg := testConfig(t)
	cfg.Registry.Driver = config.DriverFile
	cfg.Registry.Path = filepath.Join(t.TempDir(), "missing", "registry.yaml")

	checker := NewChecker(cfg, WithCheckProbes(okProbe(probe.ProtocolHTTP)))
	if got := checker.Protocols(); len(got) != 1 || got[0] != probe.ProtocolHTTP {
		t.Fatalf("unexpected protocols %v", got)
	}
	result := checker.Check(context.Background(), []types.Target{{Address: "10.0.0.4"}}, CheckOptions{AllPorts: true})
	if !result.Complete || result.Targets != len(cfg.Probes.Ports) {
		t.Fatalf("expected %d complete targets got %+v", len(cfg.Probes.Ports), result)
	}
	if _, err := os.Stat(cfg.Registry.Path); !os.IsNotExist(err) {
		t.Fatalf("checker must not touch the registry, stat err %v", err)
	}
}

func TestConcurrentSessionChangesMatchState(t *testing.T) {
	cfg := testConfig(t)
	store := registry.NewMemoryStore(types.RegistryRecord{Address: "10.0.0.1"})
	rt, err := New(context.Background(), cfg, WithRegistryStore(store), WithMonitorProbes(okProbe(probe.ProtocolICMP)), WithMinInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	wait := rt.Start(ctx)
	defer func() {
		cancel()
		wait()
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if (i+j)%2 == 0 {
					if err := rt.StartMonitor(time.Hour); err != nil {
						t.Errorf("StartMonitor: %v", err)
						return
					}
				} else {
					rt.StopMonitor()
				}
			}
		}(i)
	}
	wg.Wait()

	state, err := config.LoadState(context.Background(), cfg.DataDir)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if state.Monitor.Running != rt.Monitor().Running() {
		t.Fatalf("state file says running=%t, monitor running=%t", state.Monitor.Running, rt.Monitor().Running())
	}
}

func TestMonitorSessionPersistsAndResumes(t *testing.T) {
	cfg := testConfig(t)
	store := registry.NewMemoryStore(types.RegistryRecord{Name: "gw", Address: "10.0.0.1"})

	var rounds atomic.Int64
	icmp := probe.Probe{Protocol: probe.ProtocolICMP, Run: func(ctx context.Context, t types.Target) (probe.Result, error) {
		rounds.Add(1)
		return probe.Result{Latency: time.Millisecond}, nil
	}}
	opts := []Option{WithRegistryStore(store), WithMonitorProbes(icmp), WithMinInterval(10 * time.Millisecond)}

	rt, err := New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if rt.Monitor().Len() != 1 {
		t.Fatalf("expected registry loaded from store")
	}

	ctx, cancel := context.WithCancel(context.Background())
	wait := rt.Start(ctx)
	if rt.Monitor().Running() {
		t.Fatalf("monitor must not start without state or autostart")
	}
	if err := rt.StartMonitor(time.Millisecond); !errors.Is(err, monitor.ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval got %v", err)
	}
	if err := rt.StartMonitor(20 * time.Millisecond); err != nil {
		t.Fatalf("StartMonitor: %v", err)
	}

	state, err := config.LoadState(context.Background(), cfg.DataDir)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if !state.Monitor.Running || state.Monitor.Interval != 20*time.Millisecond {
		t.Fatalf("unexpected state %+v", state.Monitor)
	}

	deadline := time.Now().Add(2 * time.Second)
	for rounds.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for monitor rounds")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Shutdown leaves the persisted session running so it resumes.
	cancel()
	wait()

	rt2, err := New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New second runtime: %v", err)
	}
	ctx2, cancel2 := context.WithCancel(context.Background())
	wait2 := rt2.Start(ctx2)
	if !rt2.Monitor().Running() || rt2.Monitor().Interval() != 20*time.Millisecond {
		t.Fatalf("expected resumed session, running=%t interval=%s", rt2.Monitor().Running(), rt2.Monitor().Interval())
	}

	rt2.StopMonitor()
	state, err = config.LoadState(context.Background(), cfg.DataDir)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if state.Monitor.Running {
		t.Fatalf("expected stopped session persisted")
	}
	cancel2()
	wait2()
}

func TestAutostartWithoutState(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitor.Autostart = true
	cfg.Monitor.Interval = 30 * time.Millisecond
	store := registry.NewMemoryStore(types.RegistryRecord{Address: "example.com"})

	rt, err := New(context.Background(), cfg, WithRegistryStore(store), WithMonitorProbes(okProbe(probe.ProtocolICMP)), WithMinInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	wait := rt.Start(ctx)
	if !rt.Monitor().Running() {
		t.Fatalf("expected autostarted monitor")
	}
	cancel()
	wait()
	if rt.Monitor().Running() {
		t.Fatalf("expected monitor stopped with runtime context")
	}
}

func TestApplyConfigUpdatesInterval(t *testing.T) {
	cfg := testConfig(t)
	rt, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	next := cfg
	next.Monitor.Interval = 45 * time.Second
	rt.ApplyConfig(next)
	if rt.Monitor().Interval() != 45*time.Second {
		t.Fatalf("expected interval 45s got %s", rt.Monitor().Interval())
	}

	next.Monitor.Interval = time.Second
	rt.ApplyConfig(next)
	if rt.Monitor().Interval() != 45*time.Second {
		t.Fatalf("interval below floor must be rejected, got %s", rt.Monitor().Interval())
	}
}

func TestNewOpensFileRegistry(t *testing.T) {
	cfg := config.Config{DataDir: t.TempDir()}
	cfg.ApplyDefaults()
	doc := "targets:\n  - category: core\n    name: edge\n    address: 10.1.1.1\n"
	if err := os.WriteFile(cfg.Registry.Path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}

	rt, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	snap := rt.Monitor().Snapshot()
	if len(snap) != 1 || snap[0].Name != "edge" || snap[0].Status != types.StatusUnknown {
		t.Fatalf("unexpected registry %+v", snap)
	}

	if _, err := rt.Monitor().AddTarget(context.Background(), types.RegistryRecord{Name: "new", Address: "10.1.1.2"}); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if filepath.Dir(cfg.Registry.Path) != cfg.DataDir {
		t.Fatalf("unexpected registry path %s", cfg.Registry.Path)
	}
	reloaded, err := registry.NewFileStore(cfg.Registry.Path).Load(context.Background())
	if err != nil {
		t.Fatalf("reload registry: %v", err)
	}
	if len(reloaded) != 2 {
		t.Fatalf("expected saved registry with 2 records, got %+v", reloaded)
	}
}
