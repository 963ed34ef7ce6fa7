package target

import (
	"strconv"
	"strings"

	"github.com/pingsantohq/connprobe/pkg/types"
)

const (
	minPort = 1
	maxPort = 65535
)

// InvalidLine is a rejected input line with its 1-based line number.
type InvalidLine struct {
	Line int    `json:"line"`
	Raw  string `json:"raw"`
}

// ParseTargets splits raw text into targets, one per line. Blank lines and
// lines starting with '#' are skipped. A line may carry a port suffix
// ("host:8080"). Duplicates are preserved; deduplication belongs to the
// monitor registry.
func ParseTargets(raw string) (valid []types.Target, invalid []InvalidLine) {
	valid = []types.Target{}
	invalid = []InvalidLine{}
	for i, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t, ok := ParseTarget(line)
		if !ok {
			invalid = append(invalid, InvalidLine{Line: i + 1, Raw: line})
			continue
		}
		t.Line = i + 1
		valid = append(valid, t)
	}
	return valid, invalid
}

// ParseTarget validates a single "address" or "address:port" token.
func ParseTarget(s string) (types.Target, bool) {
	address := s
	port := 0
	if idx := strings.LastIndexByte(s, ':'); idx >= 0 {
		p, err := strconv.Atoi(s[idx+1:])
		if err != nil || p < minPort || p > maxPort {
			return types.Target{}, false
		}
		address = s[:idx]
		port = p
	}
	if !ValidateAddress(address) {
		return types.Target{}, false
	}
	return types.Target{Address: address, Port: port}, true
}

// ParsePortList parses a comma separated port list, keeping values in
// [1,65535] in first-seen order. Malformed entries are dropped.
func ParsePortList(raw string) []int {
	ports := []int{}
	seen := make(map[int]struct{})
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		p, err := strconv.Atoi(field)
		if err != nil || p < minPort || p > maxPort {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		ports = append(ports, p)
	}
	return ports
}

// Expand turns every target without an explicit port into one target per
// port. Targets that already carry a port are kept once.
func Expand(targets []types.Target, ports []int) []types.Target {
	if len(ports) == 0 {
		return append([]types.Target(nil), targets...)
	}
	out := make([]types.Target, 0, len(targets)*len(ports))
	for _, t := range targets {
		if t.Port > 0 {
			out = append(out, t)
			continue
		}
		for _, p := range ports {
			expanded := t
			expanded.Port = p
			out = append(out, expanded)
		}
	}
	return out
}
