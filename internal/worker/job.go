package worker

import "github.com/pingsantohq/connprobe/pkg/types"

// Job is one target handed to a worker. Seq is the dispatch position.
type Job struct {
	Seq    int
	Target types.Target
}
