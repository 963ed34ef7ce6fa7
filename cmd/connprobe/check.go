package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pingsantohq/connprobe/internal/batch"
	"github.com/pingsantohq/connprobe/internal/config"
	"github.com/pingsantohq/connprobe/internal/probe"
	"github.com/pingsantohq/connprobe/internal/runtime"
	"github.com/pingsantohq/connprobe/internal/target"
	"github.com/pingsantohq/connprobe/pkg/types"
)

var errNoTargets = errors.New("no valid targets")

type checkDeps struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Probes replaces the probes built from flags and config.
	Probes []probe.Probe
}

type checkOutput struct {
	ID         string                       `json:"id"`
	Targets    int                          `json:"targets"`
	Workers    int                          `json:"workers"`
	Complete   bool                         `json:"complete"`
	DurationMs int64                        `json:"duration_ms"`
	Invalid    []target.InvalidLine         `json:"invalid"`
	Reports    []types.TargetReport         `json:"reports"`
	Counts     map[types.Classification]int `json:"counts"`
}

// runCheck probes every target listed in a file once and prints the
// classified results. Cancelling ctx prints whatever finished.
func runCheck(ctx context.Context, args []string, deps checkDeps) error {
	if deps.Stdout == nil {
		deps.Stdout = io.Discard
	}
	if deps.Stderr == nil {
		deps.Stderr = io.Discard
	}

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(deps.Stderr)
	file := fs.String("file", "", "File with one target per line, or - for stdin")
	configPath := fs.String("config", "", "Optional configuration file for probe defaults")
	ports := fs.String("ports", "", "Comma separated ports to probe for targets without one")
	allPorts := fs.Bool("all-ports", false, "Probe every port in probes.ports")
	protocols := fs.String("protocols", "", "Comma separated protocols (http, https, icmp, tcp)")
	timeout := fs.Duration("timeout", 0, "Per-probe timeout (default from config, 3s)")
	verifyTLS := fs.Bool("verify-tls", false, "Verify HTTPS certificates")
	asJSON := fs.Bool("json", false, "Print JSON instead of a table")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("--file is required")
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(ctx, *configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if *timeout > 0 {
		cfg.Probes.Timeout = *timeout
	}
	if *verifyTLS {
		cfg.Probes.VerifyTLS = true
	}
	if *protocols != "" {
		cfg.Probes.Protocols = splitList(*protocols)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	raw, err := readInput(*file, deps.Stdin)
	if err != nil {
		return err
	}
	targets, invalid := target.ParseTargets(raw)
	for _, line := range invalid {
		fmt.Fprintf(deps.Stderr, "skipping invalid target on line %d: %q\n", line.Line, line.Raw)
	}
	if len(targets) == 0 {
		return errNoTargets
	}

	checker := runtime.NewChecker(cfg, runtime.WithCheckProbes(deps.Probes...))
	result := checker.Check(ctx, targets, runtime.CheckOptions{
		Ports:    target.ParsePortList(*ports),
		AllPorts: *allPorts,
	})
	reports := batch.Reports(result)

	if !result.Complete {
		fmt.Fprintf(deps.Stderr, "check cancelled: partial result for %d of %d targets\n", len(reports), result.Targets)
	}

	if *asJSON {
		enc := json.NewEncoder(deps.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(checkOutput{
			ID:         result.ID,
			Targets:    result.Targets,
			Workers:    result.Workers,
			Complete:   result.Complete,
			DurationMs: result.Duration().Milliseconds(),
			Invalid:    invalid,
			Reports:    reports,
			Counts:     result.Counts,
		})
	}
	return writeTable(deps.Stdout, checker.Protocols(), result, reports)
}

func readInput(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		if stdin == nil {
			return "", errors.New("stdin unavailable")
		}
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read targets %q: %w", path, err)
	}
	return string(data), nil
}

func writeTable(w io.Writer, protocols []string, result types.BatchResult, reports []types.TargetReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	header := []string{"LINE", "ADDRESS", "PORT"}
	for _, p := range protocols {
		header = append(header, strings.ToUpper(p))
	}
	header = append(header, "STATUS")
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for _, rep := range reports {
		row := []string{dash(rep.Target.Line), rep.Target.Address, dash(rep.Target.Port)}
		for _, p := range protocols {
			cell := "-"
			if out, ok := rep.Outcome(p); ok {
				cell = out.Detail
			}
			row = append(row, cell)
		}
		row = append(row, string(rep.Overall))
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	counts := make([]string, 0, len(types.Classifications))
	for _, c := range types.Classifications {
		if n := result.Counts[c]; n > 0 {
			counts = append(counts, fmt.Sprintf("%s=%d", c, n))
		}
	}
	_, err := fmt.Fprintf(w, "\n%d targets, %d workers, complete=%t, took %s [%s]\n",
		result.Targets, result.Workers, result.Complete, result.Duration().Round(time.Millisecond), strings.Join(counts, " "))
	return err
}

func dash(n int) string {
	if n == 0 {
		return "-"
	}
	return strconv.Itoa(n)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}
