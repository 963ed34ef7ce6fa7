package types

import "time"

// Classification is the fixed outcome taxonomy shared by reports and sorting.
type Classification string

const (
	ClassOK               Classification = "OK"
	ClassTimeout          Classification = "Timeout"
	ClassRefused          Classification = "Refused"
	ClassSSLError         Classification = "SSLError"
	ClassTooManyRedirects Classification = "TooManyRedirects"
	ClassUnknown          Classification = "Unknown"
)

// Classifications lists every classification in report order.
var Classifications = []Classification{
	ClassOK,
	ClassTimeout,
	ClassRefused,
	ClassSSLError,
	ClassTooManyRedirects,
	ClassUnknown,
}

// Label returns the human readable form used as an outcome detail.
func (c Classification) Label() string {
	switch c {
	case ClassOK:
		return "OK"
	case ClassTimeout:
		return "Timeout"
	case ClassRefused:
		return "Connection refused"
	case ClassSSLError:
		return "SSL error"
	case ClassTooManyRedirects:
		return "Too many redirects"
	default:
		return "Unknown error"
	}
}

// OverallStatus summarises the sub-results of one target.
type OverallStatus string

const (
	OverallOK      OverallStatus = "OK"
	OverallTimeout OverallStatus = "Timeout"
	OverallError   OverallStatus = "Error"
)

// ProbeOutcome is the result of probing one target with one protocol.
// LatencyMs is only set on success.
type ProbeOutcome struct {
	Target         Target         `json:"target"`
	Protocol       string         `json:"protocol"`
	Classification Classification `json:"classification"`
	Detail         string         `json:"detail"`
	StatusCode     int            `json:"status_code,omitempty"`
	LatencyMs      *float64       `json:"latency_ms,omitempty"`
	Error          string         `json:"error,omitempty"`
	CheckedAt      time.Time      `json:"checked_at"`
}

// OK reports whether the outcome is a success.
func (o ProbeOutcome) OK() bool {
	return o.Classification == ClassOK
}
