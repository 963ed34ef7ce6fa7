package types

import "time"

// BatchResult is the full outcome of one round. Outcomes are in canonical
// target order; Complete is false when the round was cancelled early.
type BatchResult struct {
	ID         string                 `json:"id"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Targets    int                    `json:"targets"`
	Workers    int                    `json:"workers"`
	Complete   bool                   `json:"complete"`
	Outcomes   []ProbeOutcome         `json:"outcomes"`
	Counts     map[Classification]int `json:"counts"`
}

// Duration returns the wall time spent on the batch.
func (r BatchResult) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// TargetReport groups the per-protocol outcomes of one target.
type TargetReport struct {
	Target   Target         `json:"target"`
	Outcomes []ProbeOutcome `json:"outcomes"`
	Overall  OverallStatus  `json:"status"`
}

// Outcome returns the outcome recorded for protocol, if any.
func (r TargetReport) Outcome(protocol string) (ProbeOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Protocol == protocol {
			return o, true
		}
	}
	return ProbeOutcome{}, false
}
