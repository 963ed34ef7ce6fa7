package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pingsantohq/connprobe/internal/config"
	"github.com/pingsantohq/connprobe/internal/logging"
	"github.com/pingsantohq/connprobe/internal/metrics"
	"github.com/pingsantohq/connprobe/internal/runtime"
	"github.com/pingsantohq/connprobe/internal/server"
)

const shutdownTimeout = 3 * time.Second

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = run(ctx, os.Args[2:])
	case "check":
		checkCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		err = runCheck(checkCtx, os.Args[2:], checkDeps{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr})
		stop()
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (default $CONNPROBE_CONFIG or "+config.DefaultConfigPath+")")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, path, err := loadConfig(ctx, *configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("ensure data dir: %w", err)
	}

	logger := logging.New()
	logger.Printf("connprobe starting (addr=%s, data_dir=%s, registry=%s)", cfg.Server.Addr, cfg.DataDir, cfg.Registry.Driver)

	metricsStore := metrics.NewStore()
	rt, err := runtime.New(ctx, cfg, runtime.WithLogger(logger), runtime.WithMetricsStore(metricsStore))
	if err != nil {
		return fmt.Errorf("init runtime: %w", err)
	}
	defer rt.Close()

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	grp, groupCtx := errgroup.WithContext(runCtx)
	wait := rt.Start(groupCtx)

	srv := server.New(server.Config{
		Addr:             cfg.Server.Addr,
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		AdminBearerToken: cfg.Server.AdminToken,
	}, server.Dependencies{Logger: logger, Runtime: rt})

	grp.Go(func() error {
		return serve(groupCtx, srv.Server, logger)
	})

	grp.Go(func() error {
		if _, err := os.Stat(path); err != nil {
			logger.Printf("config watch disabled path=%s: %v", path, err)
			return nil
		}
		return config.Watch(groupCtx, path, logger, rt.ApplyConfig)
	})

	grp.Go(func() error {
		<-groupCtx.Done()
		wait()
		return nil
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		stop()
		return err
	}

	logger.Printf("connprobe stopped")
	return nil
}

// loadConfig reads the file at path, or resolves it from the environment
// when path is empty. It returns the path that was used.
func loadConfig(ctx context.Context, path string) (config.Config, string, error) {
	if path == "" {
		cfg, err := config.LoadFromEnv(ctx)
		if err != nil {
			return cfg, "", fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, config.PathFromEnv(), nil
	}
	if err := config.LoadDotEnv(config.DefaultEnvFile); err != nil {
		return config.Config{}, "", err
	}
	cfg, err := config.Load(ctx, path)
	if err != nil {
		return cfg, "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, path, nil
}

func printUsage() {
	fmt.Println("connprobe: concurrent reachability prober")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  connprobe run [--config /etc/connprobe/connprobe.yaml]")
	fmt.Println("  connprobe check --file ips.txt [--ports 80,443] [--all-ports] [--protocols http,https] [--timeout 3s] [--verify-tls] [--json]")
	fmt.Println("  connprobe help")
}

func serve(ctx context.Context, srv *http.Server, logger *log.Logger) error {
	// Request contexts end with ctx so streaming handlers let Shutdown finish.
	srv.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("api listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
