package metrics

import (
	"time"

	"github.com/pingsantohq/connprobe/pkg/types"
)

type BatchRecorder interface {
	ObserveBatch(result types.BatchResult)
}

type NoopBatchRecorder struct{}

func (NoopBatchRecorder) ObserveBatch(result types.BatchResult) {}

type MonitorRecorder interface {
	SetMonitorRunning(running bool)
	ObserveRound(ts time.Time, online, offline, unknown int)
	ObserveRegistrySize(entries int)
	ObserveStoreResult(err error)
}

type NoopMonitorRecorder struct{}

func (NoopMonitorRecorder) SetMonitorRunning(running bool)                          {}
func (NoopMonitorRecorder) ObserveRound(ts time.Time, online, offline, unknown int) {}
func (NoopMonitorRecorder) ObserveRegistrySize(entries int)                         {}
func (NoopMonitorRecorder) ObserveStoreResult(err error)                            {}

// MultiMonitorRecorder fans monitor observations out to several recorders.
type MultiMonitorRecorder []MonitorRecorder

func (m MultiMonitorRecorder) SetMonitorRunning(running bool) {
	for _, rec := range m {
		rec.SetMonitorRunning(running)
	}
}

func (m MultiMonitorRecorder) ObserveRound(ts time.Time, online, offline, unknown int) {
	for _, rec := range m {
		rec.ObserveRound(ts, online, offline, unknown)
	}
}

func (m MultiMonitorRecorder) ObserveRegistrySize(entries int) {
	for _, rec := range m {
		rec.ObserveRegistrySize(entries)
	}
}

func (m MultiMonitorRecorder) ObserveStoreResult(err error) {
	for _, rec := range m {
		rec.ObserveStoreResult(err)
	}
}
