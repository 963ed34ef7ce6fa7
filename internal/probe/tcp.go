package probe

import (
	"context"
	"net"
	"time"

	"github.com/pingsantohq/connprobe/pkg/types"
)

// TCP returns a probe that completes a TCP handshake and closes the
// connection.
func TCP(opts ...Option) Func {
	o := newOptions(opts)
	dialer := &net.Dialer{Timeout: o.Timeout}
	return func(ctx context.Context, target types.Target) (Result, error) {
		start := time.Now()
		conn, err := dialer.DialContext(ctx, "tcp", o.hostPort(target))
		if err != nil {
			return Result{}, err
		}
		latency := time.Since(start)
		_ = conn.Close()
		return Result{Latency: latency}, nil
	}
}
