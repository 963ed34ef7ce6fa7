package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	envConfigPath     = "CONNPROBE_CONFIG"
	envAdminToken     = "CONNPROBE_ADMIN_TOKEN"
	envRegistryDSN    = "CONNPROBE_REGISTRY_DSN"
	envListenAddr     = "CONNPROBE_LISTEN_ADDR"
	DefaultConfigPath = "/etc/connprobe/connprobe.yaml"
	DefaultEnvFile    = ".env"
)

const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// MinMonitorInterval is the shortest accepted pause between monitor rounds.
const MinMonitorInterval = 5 * time.Second

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	DataDir  string         `yaml:"data_dir"`
	Server   ServerConfig   `yaml:"server"`
	Probes   ProbeConfig    `yaml:"probes"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Registry RegistryConfig `yaml:"registry"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	AdminToken   string        `yaml:"admin_token"`
}

type ProbeConfig struct {
	Protocols    []string      `yaml:"protocols"`
	Timeout      time.Duration `yaml:"timeout"`
	VerifyTLS    bool          `yaml:"verify_tls"`
	DefaultPort  int           `yaml:"default_port"`
	Ports        []int         `yaml:"ports"`
	MinWorkers   int           `yaml:"min_workers"`
	MaxWorkers   int           `yaml:"max_workers"`
	RateLimit    float64       `yaml:"rate_limit"`
	RateBurst    int           `yaml:"rate_burst"`
	MaxRedirects int           `yaml:"max_redirects"`
	ICMP         ICMPConfig    `yaml:"icmp"`
}

type ICMPConfig struct {
	Count      int  `yaml:"count"`
	Privileged bool `yaml:"privileged"`
}

type MonitorConfig struct {
	Interval   time.Duration `yaml:"interval"`
	MaxWorkers int           `yaml:"max_workers"`
	Protocols  []string      `yaml:"protocols"`
	Autostart  bool          `yaml:"autostart"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type RegistryConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "/var/lib/connprobe"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":5000"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 5 * time.Minute
	}
	if len(c.Probes.Protocols) == 0 {
		c.Probes.Protocols = []string{"http", "https"}
	}
	if c.Probes.Timeout <= 0 {
		c.Probes.Timeout = 3 * time.Second
	}
	if c.Probes.DefaultPort <= 0 {
		c.Probes.DefaultPort = 2265
	}
	if len(c.Probes.Ports) == 0 {
		c.Probes.Ports = []int{2265, 8080, 8888, 8443, 443, 80, 8530}
	}
	if c.Probes.MinWorkers <= 0 {
		c.Probes.MinWorkers = 10
	}
	if c.Probes.MaxWorkers <= 0 {
		c.Probes.MaxWorkers = 50
	}
	if c.Probes.RateBurst <= 0 {
		c.Probes.RateBurst = 1
	}
	if c.Probes.ICMP.Count <= 0 {
		c.Probes.ICMP.Count = 3
	}
	if c.Monitor.Interval <= 0 {
		c.Monitor.Interval = MinMonitorInterval
	}
	if c.Monitor.MaxWorkers <= 0 {
		c.Monitor.MaxWorkers = 10
	}
	if len(c.Monitor.Protocols) == 0 {
		c.Monitor.Protocols = []string{"icmp"}
	}
	if c.Monitor.StaleAfter <= 0 {
		c.Monitor.StaleAfter = 3*c.Monitor.Interval + c.Probes.Timeout*time.Duration(c.Probes.ICMP.Count)
	}
	if c.Registry.Driver == "" {
		c.Registry.Driver = DriverFile
	}
	if c.Registry.Path == "" {
		switch c.Registry.Driver {
		case DriverSQLite:
			c.Registry.Path = filepath.Join(c.DataDir, "registry.db")
		default:
			c.Registry.Path = filepath.Join(c.DataDir, "registry.yaml")
		}
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Probes.MinWorkers > c.Probes.MaxWorkers {
		return fmt.Errorf("%w: probes.min_workers %d exceeds probes.max_workers %d", ErrInvalidConfig, c.Probes.MinWorkers, c.Probes.MaxWorkers)
	}
	if c.Probes.DefaultPort < 1 || c.Probes.DefaultPort > 65535 {
		return fmt.Errorf("%w: probes.default_port %d out of range", ErrInvalidConfig, c.Probes.DefaultPort)
	}
	for _, port := range c.Probes.Ports {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%w: probes.ports contains %d", ErrInvalidConfig, port)
		}
	}
	if c.Probes.MaxRedirects < 0 {
		return fmt.Errorf("%w: probes.max_redirects must not be negative", ErrInvalidConfig)
	}
	if err := validProtocols("probes.protocols", c.Probes.Protocols); err != nil {
		return err
	}
	if err := validProtocols("monitor.protocols", c.Monitor.Protocols); err != nil {
		return err
	}
	if c.Monitor.Interval < MinMonitorInterval {
		return fmt.Errorf("%w: monitor.interval %s below %s", ErrInvalidConfig, c.Monitor.Interval, MinMonitorInterval)
	}
	switch c.Registry.Driver {
	case DriverFile, DriverSQLite, DriverMemory:
	case DriverPostgres:
		if strings.TrimSpace(c.Registry.DSN) == "" {
			return fmt.Errorf("%w: registry.dsn required for postgres", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown registry.driver %q", ErrInvalidConfig, c.Registry.Driver)
	}
	return nil
}

func validProtocols(field string, protocols []string) error {
	for _, p := range protocols {
		switch p {
		case "http", "https", "icmp", "tcp":
		default:
			return fmt.Errorf("%w: %s contains unknown protocol %q", ErrInvalidConfig, field, p)
		}
	}
	return nil
}

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result.
func Load(ctx context.Context, path string) (Config, error) {
	var cfg Config

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv loads a .env file when present, then the config file named by
// CONNPROBE_CONFIG or the default path. A missing default file yields the
// default configuration.
func LoadFromEnv(ctx context.Context) (Config, error) {
	if err := LoadDotEnv(DefaultEnvFile); err != nil {
		return Config{}, err
	}
	path := os.Getenv(envConfigPath)
	if path == "" {
		path = DefaultConfigPath
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg := Config{}
			cfg.applyEnv()
			cfg.ApplyDefaults()
			return cfg, cfg.Validate()
		}
	}
	return Load(ctx, path)
}

// PathFromEnv returns the config path LoadFromEnv would read.
func PathFromEnv() string {
	if path := os.Getenv(envConfigPath); path != "" {
		return path
	}
	return DefaultConfigPath
}

// LoadDotEnv populates unset environment variables from path. A missing file
// is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envAdminToken); v != "" {
		c.Server.AdminToken = v
	}
	if v := os.Getenv(envRegistryDSN); v != "" {
		c.Registry.DSN = v
	}
	if v := os.Getenv(envListenAddr); v != "" {
		c.Server.Addr = v
	}
}
