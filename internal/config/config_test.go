package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
data_dir: /var/lib/connprobe
server:
  addr: 127.0.0.1:9000
  admin_token: s3cret
probes:
  protocols: [http, https, tcp]
  timeout: 2s
  verify_tls: true
  ports: [80, 443]
  max_workers: 30
  rate_limit: 200
monitor:
  interval: 15s
  protocols: [tcp]
  autostart: true
registry:
  driver: sqlite
`

func TestLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "connprobe.yaml")

	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(ctx, path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9000" || cfg.Server.AdminToken != "s3cret" {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Probes.Timeout != 2*time.Second || !cfg.Probes.VerifyTLS {
		t.Fatalf("unexpected probe config: %+v", cfg.Probes)
	}
	if len(cfg.Probes.Ports) != 2 || cfg.Probes.Ports[1] != 443 {
		t.Fatalf("unexpected ports: %#v", cfg.Probes.Ports)
	}
	if cfg.Probes.MinWorkers != 10 || cfg.Probes.MaxWorkers != 30 {
		t.Fatalf("unexpected worker bounds: %d/%d", cfg.Probes.MinWorkers, cfg.Probes.MaxWorkers)
	}
	if cfg.Monitor.Interval != 15*time.Second || !cfg.Monitor.Autostart {
		t.Fatalf("unexpected monitor config: %+v", cfg.Monitor)
	}
	if cfg.Registry.Path != "/var/lib/connprobe/registry.db" {
		t.Fatalf("unexpected registry path: %s", cfg.Registry.Path)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Probes.DefaultPort != 2265 || cfg.Probes.Timeout != 3*time.Second {
		t.Fatalf("unexpected probe defaults: %+v", cfg.Probes)
	}
	want := []int{2265, 8080, 8888, 8443, 443, 80, 8530}
	if len(cfg.Probes.Ports) != len(want) {
		t.Fatalf("unexpected default ports: %#v", cfg.Probes.Ports)
	}
	for i := range want {
		if cfg.Probes.Ports[i] != want[i] {
			t.Fatalf("unexpected default ports: %#v", cfg.Probes.Ports)
		}
	}
	if cfg.Probes.VerifyTLS {
		t.Fatalf("expected tls verification off by default")
	}
	if cfg.Probes.MinWorkers != 10 || cfg.Probes.MaxWorkers != 50 || cfg.Monitor.MaxWorkers != 10 {
		t.Fatalf("unexpected worker defaults: %+v / %+v", cfg.Probes, cfg.Monitor)
	}
	if cfg.Monitor.Interval != MinMonitorInterval {
		t.Fatalf("unexpected interval default: %s", cfg.Monitor.Interval)
	}
	if cfg.Registry.Driver != DriverFile || cfg.Registry.Path != "/var/lib/connprobe/registry.yaml" {
		t.Fatalf("unexpected registry defaults: %+v", cfg.Registry)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"interval":  func(c *Config) { c.Monitor.Interval = time.Second },
		"workers":   func(c *Config) { c.Probes.MinWorkers = 60 },
		"port":      func(c *Config) { c.Probes.Ports = []int{70000} },
		"protocol":  func(c *Config) { c.Monitor.Protocols = []string{"gopher"} },
		"driver":    func(c *Config) { c.Registry.Driver = "mongo" },
		"postgres":  func(c *Config) { c.Registry.Driver = DriverPostgres },
		"redirects": func(c *Config) { c.Probes.MaxRedirects = -1 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}

func TestLoadFromEnv(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "connprobe.yaml")

	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(envConfigPath, path)
	t.Setenv(envAdminToken, "from-env")

	cfg, err := LoadFromEnv(ctx)
	if err != nil {
		t.Fatalf("LoadFromEnv returned error: %v", err)
	}

	if cfg.DataDir != "/var/lib/connprobe" {
		t.Fatalf("unexpected data dir: %s", cfg.DataDir)
	}
	if cfg.Server.AdminToken != "from-env" {
		t.Fatalf("expected env override of admin token, got %q", cfg.Server.AdminToken)
	}
	if PathFromEnv() != path {
		t.Fatalf("unexpected config path %s", PathFromEnv())
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("CONNPROBE_REGISTRY_DSN=postgres://probe@db/connprobe\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv(envRegistryDSN, "")
	os.Unsetenv(envRegistryDSN)

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(envRegistryDSN); got != "postgres://probe@db/connprobe" {
		t.Fatalf("expected dsn from env file, got %q", got)
	}
	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing env file must not fail: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
