// Package classify maps raw probe results onto the fixed outcome taxonomy.
//
// Probe transports hand their errors to Error, which inspects the typed error
// chain first (TLS and certificate errors, ECONNREFUSED, net.Error timeouts,
// ErrTooManyRedirects) and only falls back to substring matching through Text
// for errors that carry nothing but a message.
package classify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/pingsantohq/connprobe/pkg/types"
)

// ErrTooManyRedirects is returned by the HTTP probe when the redirect budget
// is exhausted.
var ErrTooManyRedirects = errors.New("too many redirects")

var textRules = []struct {
	class   types.Classification
	needles []string
}{
	{types.ClassTimeout, []string{"timed out", "timeout", "Timeout", "deadline exceeded"}},
	{types.ClassRefused, []string{"connection refused", "actively refused"}},
	{types.ClassSSLError, []string{"tls:", "x509:", "certificate", "SSL"}},
	{types.ClassTooManyRedirects, []string{"too many redirects", "stopped after"}},
}

// Error classifies a probe error. A nil error is OK.
func Error(err error) (types.Classification, string) {
	if err == nil {
		return types.ClassOK, types.ClassOK.Label()
	}
	if class, ok := typed(err); ok {
		return class, class.Label()
	}
	return Text(describe(err))
}

// Text classifies free-form failure text using case-sensitive substring
// checks. Unmatched text is Unknown with the text itself as detail.
func Text(raw string) (types.Classification, string) {
	for _, rule := range textRules {
		for _, needle := range rule.needles {
			if strings.Contains(raw, needle) {
				return rule.class, rule.class.Label()
			}
		}
	}
	if strings.TrimSpace(raw) == "" {
		return types.ClassUnknown, types.ClassUnknown.Label()
	}
	return types.ClassUnknown, raw
}

// Success returns the detail for a successful probe; HTTP probes pass their
// status code, other protocols pass zero.
func Success(statusCode int) string {
	if statusCode > 0 {
		return fmt.Sprintf("OK (%d)", statusCode)
	}
	return types.ClassOK.Label()
}

// Outcome builds a fully classified outcome for target from a probe error.
func Outcome(target types.Target, protocol string, err error) types.ProbeOutcome {
	class, detail := Error(err)
	out := types.ProbeOutcome{
		Target:         target,
		Protocol:       protocol,
		Classification: class,
		Detail:         detail,
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func typed(err error) (types.Classification, bool) {
	if errors.Is(err, ErrTooManyRedirects) {
		return types.ClassTooManyRedirects, true
	}
	if isTLSError(err) {
		return types.ClassSSLError, true
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return types.ClassRefused, true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return types.ClassTimeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.ClassTimeout, true
	}
	return "", false
}

func isTLSError(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		invalidCert      x509.CertificateInvalidError
		hostname         x509.HostnameError
		verification     *tls.CertificateVerificationError
		recordHeader     tls.RecordHeaderError
		alert            tls.AlertError
	)
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &invalidCert) ||
		errors.As(err, &hostname) ||
		errors.As(err, &verification) ||
		errors.As(err, &recordHeader) ||
		errors.As(err, &alert)
}

func describe(err error) string {
	if msg := err.Error(); strings.TrimSpace(msg) != "" {
		return msg
	}
	return fmt.Sprintf("%T", err)
}
