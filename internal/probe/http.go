package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pingsantohq/connprobe/internal/classify"
	"github.com/pingsantohq/connprobe/pkg/types"
)

// HTTP returns a probe issuing GET http://address:port/.
func HTTP(opts ...Option) Func {
	return newHTTP("http", newOptions(opts))
}

// HTTPS returns a probe issuing GET https://address:port/. Certificate
// verification is off unless WithVerifyTLS(true) is given.
func HTTPS(opts ...Option) Func {
	return newHTTP("https", newOptions(opts))
}

func newHTTP(scheme string, o Options) Func {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableKeepAlives = true
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !o.VerifyTLS}
	client := &http.Client{
		Transport: transport,
		Timeout:   o.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if o.MaxRedirects == 0 {
				return http.ErrUseLastResponse
			}
			if len(via) > o.MaxRedirects {
				return fmt.Errorf("after %d redirects: %w", o.MaxRedirects, classify.ErrTooManyRedirects)
			}
			return nil
		},
	}

	return func(ctx context.Context, target types.Target) (Result, error) {
		url := fmt.Sprintf("%s://%s/", scheme, o.hostPort(target))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return Result{}, err
		}
		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return Result{}, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		if resp.StatusCode <= 0 {
			return Result{}, errors.New("empty http status")
		}
		return Result{StatusCode: resp.StatusCode, Latency: time.Since(start)}, nil
	}
}
