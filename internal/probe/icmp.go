package probe

import (
	"context"
	"fmt"
	"os"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/pingsantohq/connprobe/pkg/types"
)

// ErrNoReply is returned when no echo reply arrived before the timeout.
var ErrNoReply = fmt.Errorf("icmp: no reply: %w", os.ErrDeadlineExceeded)

// ICMP returns a probe sending Options.ICMPCount echo requests and reporting
// the average round trip. Unprivileged mode uses UDP ping sockets.
func ICMP(opts ...Option) Func {
	o := newOptions(opts)
	return func(ctx context.Context, target types.Target) (Result, error) {
		pinger, err := probing.NewPinger(target.Address)
		if err != nil {
			return Result{}, fmt.Errorf("resolve %s: %w", target.Address, err)
		}
		pinger.Count = o.ICMPCount
		pinger.Interval = 200 * time.Millisecond
		pinger.Timeout = o.Timeout
		pinger.SetPrivileged(o.Privileged)

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				pinger.Stop()
			case <-done:
			}
		}()

		if err := pinger.Run(); err != nil {
			return Result{}, fmt.Errorf("ping %s: %w", target.Address, err)
		}
		stats := pinger.Statistics()
		if stats.PacketsRecv == 0 {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{}, ErrNoReply
		}
		return Result{Latency: stats.AvgRtt}, nil
	}
}
