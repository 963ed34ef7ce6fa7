package worker

const (
	DefaultMinWorkers = 10
	DefaultMaxWorkers = 50
)

// ComputeWorkerCount sizes a pool for n targets: one worker per five targets,
// clamped to [minWorkers, maxWorkers] and never more than n. The result is at
// least 1.
func ComputeWorkerCount(n, minWorkers, maxWorkers int) int {
	w := max(minWorkers, min(n/5, maxWorkers))
	w = min(w, n, maxWorkers)
	return max(w, 1)
}
