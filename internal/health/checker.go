package health

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pingsantohq/connprobe/internal/metrics"
)

const defaultRoundStale = time.Minute

const (
	categoryRoundPending = "ROUND_PENDING"
	categoryRoundStale   = "ROUND_STALE"
	categoryStoreError   = "STORE_ERROR"
)

const (
	severityInfo     = "info"
	severityWarning  = "warning"
	severityCritical = "critical"
)

// Checker evaluates readiness conditions for the service. It implements
// metrics.MonitorRecorder so the monitor feeds it directly.
type Checker struct {
	metrics    *metrics.Store
	staleAfter time.Duration
	now        func() time.Time

	mu           sync.RWMutex
	running      bool
	runningSince time.Time
	lastRound    time.Time
	storeErr     string
	lastStoreErr time.Time
}

// NewChecker constructs a readiness checker bound to the provided metrics
// store. A running monitor whose last round is older than staleAfter makes
// the service not ready.
func NewChecker(store *metrics.Store, staleAfter time.Duration) *Checker {
	if staleAfter <= 0 {
		staleAfter = defaultRoundStale
	}
	return &Checker{
		metrics:    store,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// SetStaleAfter adjusts the staleness window, typically when the monitor
// interval changes.
func (c *Checker) SetStaleAfter(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.staleAfter = d
	c.mu.Unlock()
}

func (c *Checker) SetMonitorRunning(running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if running && !c.running {
		c.runningSince = c.now()
		c.lastRound = time.Time{}
	}
	c.running = running
}

func (c *Checker) ObserveRound(ts time.Time, online, offline, unknown int) {
	c.mu.Lock()
	c.lastRound = ts
	c.mu.Unlock()
}

func (c *Checker) ObserveRegistrySize(entries int) {}

// ObserveStoreResult records the outcome of a registry store operation.
func (c *Checker) ObserveStoreResult(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.storeErr = err.Error()
		c.lastStoreErr = c.now()
		return
	}
	c.storeErr = ""
	c.lastStoreErr = time.Time{}
}

// Ready evaluates all readiness conditions and returns the overall status and reasons for failure.
func (c *Checker) Ready(now time.Time) (bool, []string) {
	reasons := make([]string, 0, 3)
	categories := make([]metrics.ReadinessCategory, 0, 3)
	appendCategory := func(name, severity string) {
		categories = append(categories, metrics.ReadinessCategory{
			Name:     name,
			Severity: severity,
		})
	}

	c.mu.RLock()
	running := c.running
	runningSince := c.runningSince
	lastRound := c.lastRound
	storeErr := c.storeErr
	lastStoreErr := c.lastStoreErr
	staleAfter := c.staleAfter
	c.mu.RUnlock()

	if running {
		switch {
		case lastRound.IsZero() && now.Sub(runningSince) <= staleAfter:
			reasons = append(reasons, "no monitor round completed yet")
			appendCategory(categoryRoundPending, severityInfo)
		case lastRound.IsZero():
			reasons = append(reasons, fmt.Sprintf("monitor round overdue (%s)", now.Sub(runningSince).Round(time.Second)))
			appendCategory(categoryRoundStale, severityWarning)
		case now.Sub(lastRound) > staleAfter:
			reasons = append(reasons, fmt.Sprintf("monitor round stale (%s)", now.Sub(lastRound).Round(time.Second)))
			appendCategory(categoryRoundStale, severityWarning)
		}
	}

	if storeErr != "" && now.Sub(lastStoreErr) <= staleAfter {
		reasons = append(reasons, fmt.Sprintf("registry store failing: %s", storeErr))
		appendCategory(categoryStoreError, severityCritical)
	}

	ready := len(reasons) == 0
	if c.metrics != nil {
		reasonText := strings.Join(reasons, "; ")
		if ready {
			c.metrics.ObserveReadiness(true, "", nil)
		} else {
			c.metrics.ObserveReadiness(false, reasonText, categories)
		}
	}
	if !ready {
		return false, reasons
	}
	return true, nil
}
