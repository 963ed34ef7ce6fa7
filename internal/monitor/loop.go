package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/pingsantohq/connprobe/internal/batch"
	"github.com/pingsantohq/connprobe/pkg/types"
)

// Start begins monitoring with the given interval between rounds. Starting
// a running monitor is a no-op whatever the interval. Otherwise it fails
// with ErrInvalidInterval when interval is below the floor and with
// ErrEmptyRegistry when there is nothing to probe. ctx bounds the lifetime
// of the loop.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	if interval < m.minInterval {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is below %s", ErrInvalidInterval, interval, m.minInterval)
	}
	if len(m.entries) == 0 {
		m.mu.Unlock()
		return ErrEmptyRegistry
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.interval = interval
	m.gen++
	gen := m.gen
	m.cancel = cancel
	done := make(chan struct{})
	m.done = done
	m.mu.Unlock()

	m.metrics.SetMonitorRunning(true)
	m.emit(types.EventMonitorStarted, "", map[string]any{"interval_sec": interval.Seconds()})
	m.logger.Printf("monitor started interval=%s", interval)

	go m.loop(loopCtx, gen, done)
	return nil
}

// Stop ends the session and cancels the in-flight round. Outcomes that
// completed before Stop are applied; checks still running are abandoned and
// their entries keep their previous state. Stop does not wait for the loop
// to exit; use Wait for that.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.metrics.SetMonitorRunning(false)
	m.emit(types.EventMonitorStopped, "", nil)
	m.logger.Printf("monitor stopped")
}

// Wait blocks until the most recently started loop has exited.
func (m *Monitor) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

func (m *Monitor) MinInterval() time.Duration {
	return m.minInterval
}

// SetInterval changes the pause between rounds; a running loop picks it up
// on its next sleep.
func (m *Monitor) SetInterval(interval time.Duration) error {
	if interval < m.minInterval {
		return fmt.Errorf("%w: %s is below %s", ErrInvalidInterval, interval, m.minInterval)
	}
	m.mu.Lock()
	m.interval = interval
	m.mu.Unlock()
	return nil
}

func (m *Monitor) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	defer m.loopExited(gen)

	for {
		m.RunRound(ctx)

		timer := time.NewTimer(m.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// loopExited marks the session stopped when the loop ended on its own, for
// example because the parent context was cancelled.
func (m *Monitor) loopExited(gen uint64) {
	m.mu.Lock()
	if !m.running || m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.running = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()

	m.metrics.SetMonitorRunning(false)
	m.emit(types.EventMonitorStopped, "", map[string]any{"reason": "context done"})
	m.logger.Printf("monitor loop exited")
}

// RunRound probes a snapshot of the registry once and applies the outcomes.
// It returns the raw batch result; an empty registry yields a zero result.
func (m *Monitor) RunRound(ctx context.Context) types.BatchResult {
	m.mu.Lock()
	targets := make([]types.Target, len(m.entries))
	for i, e := range m.entries {
		targets[i] = types.Target{Address: e.Address}
	}
	m.mu.Unlock()

	if len(targets) == 0 {
		return types.BatchResult{Complete: true}
	}

	result := m.prober.Run(ctx, targets, min(len(targets), m.maxWorkers))
	checked := m.now()

	var online, offline, unknown, applied int
	m.mu.Lock()
	for _, report := range batch.Reports(result) {
		idx := m.indexLocked(report.Target.Address)
		if idx < 0 {
			continue
		}
		applyReport(m.entries[idx], report, checked)
		applied++
	}
	for _, e := range m.entries {
		switch e.Status {
		case types.StatusOnline:
			online++
		case types.StatusOffline:
			offline++
		default:
			unknown++
		}
	}
	m.mu.Unlock()

	m.metrics.ObserveRound(checked, online, offline, unknown)
	m.emit(types.EventRoundCompleted, "", map[string]any{
		"batch_id": result.ID,
		"complete": result.Complete,
		"targets":  len(targets),
		"applied":  applied,
		"online":   online,
		"offline":  offline,
	})
	m.emit(types.EventRegistryUpdated, "", map[string]any{"entries": online + offline + unknown})
	m.logger.Printf("monitor round finished targets=%d applied=%d online=%d offline=%d complete=%t",
		len(targets), applied, online, offline, result.Complete)
	return result
}

func applyReport(entry *types.MonitoredEntry, report types.TargetReport, checked time.Time) {
	ts := checked
	entry.LastChecked = &ts
	if report.Overall != types.OverallOK {
		entry.Status = types.StatusOffline
		entry.LatencyMs = nil
		return
	}
	entry.Status = types.StatusOnline
	entry.LatencyMs = nil
	for _, out := range report.Outcomes {
		if out.OK() && out.LatencyMs != nil {
			v := *out.LatencyMs
			entry.LatencyMs = &v
			return
		}
	}
}
