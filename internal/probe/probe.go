// Package probe provides the connectivity checks dispatched by the batch
// prober and the monitor. A probe reports a Result on success and an error
// otherwise; mapping errors to classifications is left to the classify
// package.
package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/pingsantohq/connprobe/pkg/types"
)

const (
	ProtocolHTTP  = "http"
	ProtocolHTTPS = "https"
	ProtocolICMP  = "icmp"
	ProtocolTCP   = "tcp"
)

const (
	DefaultPort    = 2265
	DefaultTimeout = 3 * time.Second
)

// Result is what a successful probe observed.
type Result struct {
	StatusCode int
	Latency    time.Duration
}

// Func probes a single target. It must honour ctx and its own timeout.
type Func func(ctx context.Context, target types.Target) (Result, error)

// Probe binds a Func to the protocol name reported on its outcomes.
type Probe struct {
	Protocol string
	Run      Func
}

type Options struct {
	Timeout      time.Duration
	VerifyTLS    bool
	MaxRedirects int
	DefaultPort  int
	ICMPCount    int
	Privileged   bool
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

func WithVerifyTLS(verify bool) Option {
	return func(o *Options) {
		o.VerifyTLS = verify
	}
}

// WithMaxRedirects sets how many redirects HTTP probes follow. Zero reports
// the redirect response itself.
func WithMaxRedirects(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.MaxRedirects = n
		}
	}
}

func WithDefaultPort(port int) Option {
	return func(o *Options) {
		if port > 0 && port <= 65535 {
			o.DefaultPort = port
		}
	}
}

func WithICMPCount(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.ICMPCount = n
		}
	}
}

func WithPrivileged(privileged bool) Option {
	return func(o *Options) {
		o.Privileged = privileged
	}
}

func newOptions(opts []Option) Options {
	o := Options{
		Timeout:     DefaultTimeout,
		DefaultPort: DefaultPort,
		ICMPCount:   1,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o Options) hostPort(target types.Target) string {
	port := target.Port
	if port == 0 {
		port = o.DefaultPort
	}
	return net.JoinHostPort(target.Address, strconv.Itoa(port))
}

// Set returns the probes for the given protocol names in order. Unknown names
// are skipped.
func Set(protocols []string, opts ...Option) []Probe {
	probes := make([]Probe, 0, len(protocols))
	for _, proto := range protocols {
		var fn Func
		switch proto {
		case ProtocolHTTP:
			fn = HTTP(opts...)
		case ProtocolHTTPS:
			fn = HTTPS(opts...)
		case ProtocolICMP:
			fn = ICMP(opts...)
		case ProtocolTCP:
			fn = TCP(opts...)
		default:
			continue
		}
		probes = append(probes, Probe{Protocol: proto, Run: fn})
	}
	return probes
}

// Order returns the position of protocol in the canonical protocol order.
func Order(protocol string) int {
	switch protocol {
	case ProtocolHTTP:
		return 0
	case ProtocolHTTPS:
		return 1
	case ProtocolICMP:
		return 2
	case ProtocolTCP:
		return 3
	default:
		return 4
	}
}
